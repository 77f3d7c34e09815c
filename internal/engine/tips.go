package engine

// tips rotate through the progress message while the assistant's reply
// cannot be previewed yet.
var tips = []string{
	"Tip: /screen shows the raw pane any time",
	"Tip: /esc interrupts the assistant",
	"Tip: /detach stops live updates, the session keeps running",
	"Tip: long replies arrive chunked, or as a file when very long",
	"Tip: /sessions lists everything you can attach to",
}

func tipFor(n int) string {
	if len(tips) == 0 {
		return ""
	}
	return tips[n%len(tips)]
}

package supervisor

import "hash/fnv"

// Colors is the {bgColor,textColor} pair the Controller attaches to a
// process:create UI frame, per §9 design notes ("deterministic
// per-process colors").
type Colors struct {
	BgColor   string `json:"bgColor"`
	TextColor string `json:"textColor"`
}

// palette is a small set of background/foreground pairs chosen for
// contrast; processId hashes pick a deterministic entry.
var palette = []Colors{
	{BgColor: "#1f6feb", TextColor: "#ffffff"},
	{BgColor: "#da3633", TextColor: "#ffffff"},
	{BgColor: "#238636", TextColor: "#ffffff"},
	{BgColor: "#8957e5", TextColor: "#ffffff"},
	{BgColor: "#d29922", TextColor: "#000000"},
	{BgColor: "#1a7f86", TextColor: "#ffffff"},
	{BgColor: "#bf4b8a", TextColor: "#ffffff"},
	{BgColor: "#6e7681", TextColor: "#ffffff"},
}

// ColorsFor deterministically picks a Colors pair for processID.
func ColorsFor(processID string) Colors {
	h := fnv.New32a()
	_, _ = h.Write([]byte(processID))
	return palette[h.Sum32()%uint32(len(palette))]
}

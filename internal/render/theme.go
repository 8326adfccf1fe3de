package render

// Theme holds colors for occurrence graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Binary nodes.
	BinaryFill   string
	BinaryBorder string

	// Edge colors by the gadget's terminator.
	EdgeReturn string // ret
	EdgeCall   string // call reg / call [mem], direct call
	EdgeJump   string // jmp reg / jmp [mem], direct jmp
	EdgeOther  string // syscall terminators

	ClusterBorder string
	ClusterLabel  string
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	BinaryFill:   "#ECEFF1", // blue-gray 50
	BinaryBorder: "#0B3D91", // NASA blue

	EdgeReturn: "#0B3D91",
	EdgeCall:   "#E65100", // deep orange
	EdgeJump:   "#FC3D21", // NASA red
	EdgeOther:  "#9E9E9E",

	ClusterBorder: "#BDBDBD",
	ClusterLabel:  "#757575",
}

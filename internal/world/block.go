package world

// Block is a block-type code. The codes are shared verbatim between host and
// client, so the values below must never be renumbered.
type Block uint8

const (
	Empty Block = iota
	Grass
	Stone
	Dirt
	Cobblestone
	Planks
	Sapling
	Water
	Bedrock
	Lava
	Sand
	Gravel
	GoldOre
	IronOre
	CoalOre
	Log
	Leaves
	Dandelion
	Rose
	BrownMushroom
	RedMushroom
	Obsidian
	Sponge
	Glass
	// palette colors
	Red
	Orange
	Yellow
	Lime
	Green
	Teal
	Aqua
	Cyan
	Blue
	Indigo
	Violet
	Magenta
	Pink
	Black
	Gray
	White
)

// Air is an alias for Empty.
const Air = Empty

var blockNames = [...]string{
	"air", "grass", "stone", "dirt", "cobblestone", "planks", "sapling", "water",
	"bedrock", "lava", "sand", "gravel", "gold_ore", "iron_ore", "coal_ore", "log",
	"leaves", "dandelion", "rose", "brown_mushroom", "red_mushroom", "obsidian",
	"sponge", "glass",
	"red", "orange", "yellow", "lime", "green", "teal", "aqua", "cyan",
	"blue", "indigo", "violet", "magenta", "pink", "black", "gray", "white",
}

func (b Block) String() string {
	if int(b) < len(blockNames) {
		return blockNames[b]
	}
	return "unknown"
}

// Valid reports whether b is part of the known enumeration.
func (b Block) Valid() bool { return int(b) < len(blockNames) }

// BlockFromID converts a wire block id and reports whether it names a block.
func BlockFromID(id int) (Block, bool) {
	if id < 0 || id >= len(blockNames) {
		return Empty, false
	}
	return Block(id), true
}

package spec

// Stage identifies one step of the encode or decode pipeline
type Stage int

const (
	StageOpen Stage = iota
	StageCapacity
	StageHeader
	StageMagic
	StageExtensionSize
	StageExtension
	StageOutputFile
	StageSecretSize
	StageSecretData
	StageTail
)

var stageNames = map[Stage]string{
	StageOpen:          "open files",
	StageCapacity:      "check capacity",
	StageHeader:        "bmp header",
	StageMagic:         "magic string",
	StageExtensionSize: "secret file extension size",
	StageExtension:     "secret file extension",
	StageOutputFile:    "output file",
	StageSecretSize:    "secret file size",
	StageSecretData:    "secret file data",
	StageTail:          "remaining image data",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown stage"
}

package spec

// Carrier layout constants
const (
	BMP_HEADER_SIZE   = 54 // Fixed BITMAPFILEHEADER + BITMAPINFOHEADER size
	BITS_PER_BYTE     = 8  // Carrier bytes consumed per data byte
	LENGTH_FIELD_SIZE = 4  // Length fields are little-endian uint32
	LENGTH_FIELD_BITS = LENGTH_FIELD_SIZE * BITS_PER_BYTE
	CHANNELS          = 3 // BGR bytes per pixel in a 24-bit bitmap
)

// Frame constants
const (
	// MAGIC_STRING marks an image produced by the encoder
	MAGIC_STRING = "#*"

	// Upper bound on a decoded output path (base name + extension)
	MAX_PATH_LEN = 4096
)

// CLI defaults
const (
	DEFAULT_STEGO_NAME  = "stego.bmp"
	DEFAULT_SECRET_NAME = "out_secret"
	CARRIER_EXTENSION   = ".bmp"
)

// DEFAULT_SECRET_EXTENSIONS is the allow-list applied to secret files by the CLI
var DEFAULT_SECRET_EXTENSIONS = []string{".txt", ".c", ".h", ".sh"}

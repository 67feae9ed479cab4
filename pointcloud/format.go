package pointcloud

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Format is an on-disk point cloud format, chosen by file extension.
type Format string

// The known formats.
const (
	FormatUnknown Format = ""
	FormatText    Format = ".txt"
	FormatPCD     Format = ".pcd"
	FormatPLY     Format = ".ply"
	FormatLAS     Format = ".las"
)

// FormatFromPath returns the format matching the extension of path, ignoring case.
func FormatFromPath(path string) Format {
	switch f := Format(strings.ToLower(filepath.Ext(path))); f {
	case FormatText, FormatPCD, FormatPLY, FormatLAS:
		return f
	default:
		return FormatUnknown
	}
}

// IsBinary returns whether the format is one of the binary point cloud encodings.
func (f Format) IsBinary() bool {
	return f == FormatPCD || f == FormatPLY || f == FormatLAS
}

// Read decodes a stream in one of the formats that can be read without seeking. LAS needs a file
// on disk and is read with ReadLAS.
func Read(in io.Reader, format Format) (*PointCloud, error) {
	switch format {
	case FormatText:
		return ReadText(in)
	case FormatPCD:
		return ReadPCD(in)
	case FormatPLY:
		return ReadPLY(in)
	default:
		return nil, errors.Errorf("do not know how to read %q streams", string(format))
	}
}

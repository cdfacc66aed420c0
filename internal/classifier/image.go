package classifier

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const defaultImageType = "image/jpeg"

// imageTypes is keyed by lower-case extension without the dot.
var imageTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"heic": "image/heic",
	"heif": "image/heif",
}

// Image is an in-memory image ready for upload.
type Image struct {
	Filename string
	Data     []byte
}

// ContentType derives the MIME type from the filename extension.
func (img Image) ContentType() string {
	return MIMEType(img.Filename)
}

// MIMEType maps a filename's extension to an image MIME type, falling back
// to image/jpeg when the extension is missing or unknown.
func MIMEType(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if t, ok := imageTypes[strings.ToLower(ext)]; ok {
		return t
	}
	return defaultImageType
}

// LoadImage resolves a filesystem path or file:// URI into an Image.
func LoadImage(location string) (Image, error) {
	path, err := localPath(location)
	if err != nil {
		return Image{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Image{}, fmt.Errorf("image %q: %w", location, err)
	}
	if info.IsDir() {
		return Image{}, fmt.Errorf("image %q is a directory", location)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read image %q: %w", location, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("image %q is empty", location)
	}
	return Image{Filename: filepath.Base(path), Data: data}, nil
}

func localPath(location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", fmt.Errorf("image location is empty")
	}
	if !strings.Contains(location, "://") {
		return location, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("image location %q: %w", location, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("image location %q: unsupported scheme %q", location, u.Scheme)
	}
	if u.Path == "" {
		return "", fmt.Errorf("image location %q has no path", location)
	}
	return filepath.FromSlash(u.Path), nil
}

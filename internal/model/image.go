package model

import (
	"strings"
	"time"
)

// ContentType is one of the image MIME types the store accepts.
type ContentType string

const (
	ContentTypePNG  ContentType = "image/png"
	ContentTypeJPG  ContentType = "image/jpg"
	ContentTypeJPEG ContentType = "image/jpeg"
)

// extensions maps each accepted content type to the file extension used on disk.
var extensions = map[ContentType]string{
	ContentTypePNG:  "png",
	ContentTypeJPG:  "jpg",
	ContentTypeJPEG: "jpeg",
}

// ParseContentType returns the ContentType for a MIME string and whether it is accepted.
func ParseContentType(s string) (ContentType, bool) {
	ct := ContentType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := extensions[ct]
	return ct, ok
}

// ContentTypeFromExt maps a file extension (with or without the leading dot)
// to a content type. Unknown extensions report false.
func ContentTypeFromExt(ext string) (ContentType, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for ct, e := range extensions {
		if e == ext {
			return ct, true
		}
	}
	return "", false
}

// Extension returns the file extension for the content type, without the dot.
func (c ContentType) Extension() string {
	return extensions[c]
}

// Image is an original, unmodified upload held in the permanent store.
type Image struct {
	Name        string      `json:"name"`
	ContentType ContentType `json:"contentType"`
	Size        int64       `json:"size"`
	Uploaded    time.Time   `json:"uploaded"`
}

// CachedImage is a resized derivative of an Image held in the transform cache.
// At most one exists per (OriginalName, Resolution).
type CachedImage struct {
	OriginalName string      `json:"originalName"`
	ContentType  ContentType `json:"contentType"`
	Size         int64       `json:"size"`
	Resolution   Resolution  `json:"resolution"`
}

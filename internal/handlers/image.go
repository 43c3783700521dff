package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/example/face-login/internal/biometric"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var (
	errUploadTooLarge     = errors.New("upload too large")
	errUnsupportedContent = errors.New("unsupported content type")
)

// decodeDataURL accepts a data URL ("data:image/png;base64,...") as sent by
// the browser canvas, or bare base64.
func decodeDataURL(field, value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, biometric.NewValidationError(field, "no image provided")
	}
	if strings.HasPrefix(value, "data:") {
		comma := strings.IndexByte(value, ',')
		if comma < 0 {
			return nil, biometric.NewValidationError(field, "malformed data URL")
		}
		if !strings.Contains(value[:comma], ";base64") {
			return nil, biometric.NewValidationError(field, "data URL must be base64 encoded")
		}
		value = value[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
		if err != nil {
			return nil, biometric.NewValidationError(field, "invalid base64 payload")
		}
	}
	if len(data) == 0 {
		return nil, biometric.NewValidationError(field, "no image provided")
	}
	return data, nil
}

// checkImage enforces the per-image size limit and sniffs the content type.
func checkImage(data []byte, maxSize int64) error {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return errUploadTooLarge
	}
	if !allowedImageTypes[http.DetectContentType(data)] {
		return errUnsupportedContent
	}
	return nil
}

func readFormFile(fh *multipart.FileHeader, maxSize int64) ([]byte, error) {
	if maxSize > 0 && fh.Size > maxSize {
		return nil, errUploadTooLarge
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	reader := io.Reader(src)
	if maxSize > 0 {
		reader = io.LimitReader(src, maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := checkImage(data, maxSize); err != nil {
		return nil, err
	}
	return data, nil
}

func decodeImages(field string, values []string, maxSize int64) ([][]byte, error) {
	images := make([][]byte, 0, len(values))
	for _, v := range values {
		data, err := decodeDataURL(field, v)
		if err != nil {
			return nil, err
		}
		if err := checkImage(data, maxSize); err != nil {
			return nil, err
		}
		images = append(images, data)
	}
	return images, nil
}

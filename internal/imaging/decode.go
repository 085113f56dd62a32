package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

var ErrEmptyPayload = errors.New("image payload is empty")

// PayloadBytes decodes a base64 image payload. A data URL prefix such as
// "data:image/png;base64," is stripped first.
func PayloadBytes(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, errors.New("malformed data URL: missing ','")
		}
		payload = payload[comma+1:]
	}
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// unpadded payloads are common from mobile clients
		if raw, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}

// DecodeBytes decodes a JPEG, PNG or GIF image and reports its format.
func DecodeBytes(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyPayload
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// DecodeBase64 is PayloadBytes followed by DecodeBytes.
func DecodeBase64(payload string) (image.Image, string, error) {
	data, err := PayloadBytes(payload)
	if err != nil {
		return nil, "", err
	}
	return DecodeBytes(data)
}

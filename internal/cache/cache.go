package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/Brownie44l1/grain-api/internal/classify"
)

// Cache stores assembled predictions by request key.
type Cache interface {
	Get(key string) (classify.Prediction, bool)
	Set(key string, p classify.Prediction)
}

// Key hashes the requested class together with the raw image bytes.
func Key(requested string, image []byte) string {
	h := sha256.New()
	h.Write([]byte(classify.ParseRequested(requested)))
	h.Write([]byte{0})
	h.Write(image)
	return "grain:v1:" + hex.EncodeToString(h.Sum(nil))
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(string) (classify.Prediction, bool) { return classify.Prediction{}, false }

func (Nop) Set(string, classify.Prediction) {}

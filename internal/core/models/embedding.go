package models

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding ist ein Merkmalsvektor fester Länge. In der Datenbank wird er als BLOB
// aus little-endian float32-Werten abgelegt (4 Byte pro Komponente).
type Embedding []float32

// Value implementiert driver.Valuer
func (e Embedding) Value() (driver.Value, error) {
	return EncodeEmbedding(e), nil
}

// Scan implementiert sql.Scanner
func (e *Embedding) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*e = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Embedding", src)
	}

	decoded, err := DecodeEmbedding(raw)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// GormDataType legt den Spaltentyp für AutoMigrate fest
func (Embedding) GormDataType() string {
	return "blob"
}

// EncodeEmbedding serialisiert einen Vektor
func EncodeEmbedding(e []float32) []byte {
	buf := make([]byte, 4*len(e))
	for i, f := range e {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding ist die Umkehrung von EncodeEmbedding. Der Puffer wird kopiert.
func DecodeEmbedding(raw []byte) (Embedding, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(raw))
	}
	out := make(Embedding, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

package codec

// Codec encodes and decodes records for storage and the wire.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

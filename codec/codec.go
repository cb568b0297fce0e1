// Package codec centralizes the encoding of snapshot metadata tables.
//
// Snapshot bundles are self-describing: the bundle header records the
// codec name, and the loader selects the codec by that name. Changing
// the default codec therefore never breaks existing bundles.
package codec

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Default is the codec used for newly written bundles. Existing
// bundles record their codec name and are opened with that codec.
var Default Codec = GoJSON{}

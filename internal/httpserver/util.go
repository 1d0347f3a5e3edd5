package httpserver

import (
	"encoding/json"
	"errors"
	"io"
)

// maxBodyBytes caps request bodies. Intent and webhook payloads are small;
// anything near this limit is malformed or hostile.
const maxBodyBytes = 1 << 20

// decodeJSON decodes a JSON request body into dest, rejecting unknown
// fields and trailing content. The reader is closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected trailing content")
	}
	return nil
}

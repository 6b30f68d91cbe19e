package commands

import (
	"encoding/json"
	"io"
)

// jsonEncoder returns an indenting JSON encoder, used by every subcommand
// to print its structured result the way spec §6.3 describes tool-layer
// operations: "each is a single request/response shape."
func jsonEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}

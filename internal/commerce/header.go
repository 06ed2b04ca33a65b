package commerce

import (
	"github.com/dunglas/httpsfv"
)

// clientHeaderName carries an RFC 8941 dictionary identifying the client,
// e.g. `name="storefront-cli", version="1.0.0"`.
const clientHeaderName = "Storefront-Client"

// serverHeaderName is the optional response dictionary advertising the API version.
const serverHeaderName = "Storefront-Server"

func clientHeader(name, version string) (string, error) {
	if name == "" {
		name = "storefront-go"
	}
	if version == "" {
		version = "dev"
	}

	dict := httpsfv.NewDictionary()
	dict.Add("name", httpsfv.NewItem(name))
	dict.Add("version", httpsfv.NewItem(version))
	return httpsfv.Marshal(dict)
}

// parseServerVersion extracts the version member from a Storefront-Server header.
// Returns "" if the header is absent or malformed.
func parseServerVersion(header string) string {
	if header == "" {
		return ""
	}
	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return ""
	}
	member, ok := dict.Get("version")
	if !ok {
		return ""
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return ""
	}
	v, _ := item.Value.(string)
	return v
}

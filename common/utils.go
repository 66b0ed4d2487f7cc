package common

import (
	uuid "github.com/nu7hatch/gouuid"
)

// GenUUID generates an opaque identifier using a random uuid. Used to mint
// framework message ids and reliable-send ids.
func GenUUID() string {
	// uuid.NewV4() should never actually return an error: the code uses the
	// rand.Read API to generate the uuid, which per the Go docs "always
	// returns ... a nil error".
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}

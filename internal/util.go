package internal

import (
	"fmt"

	"github.com/gofrs/uuid/v5"
)

func uuidv7() string {
	uuid, _ := uuid.NewV7()
	return fmt.Sprintf("urn:uuid:%s", uuid)
}

func newID() string {
	id, _ := uuid.NewV7()
	return id.String()
}

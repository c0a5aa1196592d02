package sync

import (
	"encoding/json"
	"fmt"

	"github.com/sandeepkv93/tasksync/internal/model"
)

type entityPtr[T any] interface {
	*T
	model.Versioned
}

// decodeDocument turns a remote document into its typed entity. Missing
// fields take their zero value: syncVersion 0, deviceId "", and a zero
// updatedAt that loses every tie-break. A missing id is taken from key; an
// id that disagrees with key is rejected. The result must pass Validate.
func decodeDocument[T any, P entityPtr[T]](key string, raw []byte) (T, error) {
	var out T
	p := P(&out)
	if err := json.Unmarshal(raw, p); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	meta := p.Meta()
	switch meta.ID {
	case "":
		meta.ID = key
	case key:
	default:
		return out, fmt.Errorf("%w: id %q does not match key %q", ErrInvalidDocument, meta.ID, key)
	}
	if err := p.Validate(); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return out, nil
}

func encodeDocument[T any, P entityPtr[T]](row *T) ([]byte, error) {
	return json.Marshal(P(row))
}

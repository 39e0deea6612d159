package insight

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/satriahrh/echomind/domain"
)

const fence = "```"

// ParseResponse extracts the JSON object from a model reply. The object may
// sit inside a ```json fence, a bare ``` fence, or be the whole reply.
func ParseResponse(response string) (map[string]any, error) {
	body := extractJSON(response)
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", domain.ErrParseFailed)
	}

	var out map[string]any
	if err := sonic.UnmarshalString(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFailed, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFailed, errors.New("response is not a JSON object"))
	}
	return out, nil
}

func extractJSON(response string) string {
	if i := strings.Index(response, fence+"json"); i >= 0 {
		rest := response[i+len(fence)+len("json"):]
		if j := strings.Index(rest, fence); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}

	if i := strings.Index(response, fence); i >= 0 {
		rest := response[i+len(fence):]
		if j := strings.Index(rest, fence); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}

	return strings.TrimSpace(response)
}

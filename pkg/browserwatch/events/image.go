package events

import (
	"encoding/base64"
	"strings"
)

// ExtractPNG returns the image a tool already put in its result, if any.
// The expected shape is
//
//	[{"type": "image", "source": {"data": "<base64>", "media_type": "image/png"}}]
//
// optionally wrapped as {"content": [...]}. Only the first image block with
// data is considered; invalid base64 means no image.
func ExtractPNG(content any) ([]byte, bool) {
	if wrapped, ok := content.(map[string]any); ok {
		content = wrapped["content"]
	}

	items, ok := content.([]any)
	if !ok {
		return nil, false
	}

	for _, item := range items {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		blockType, _ := block["type"].(string)
		if strings.ToLower(blockType) != "image" {
			continue
		}
		source, ok := block["source"].(map[string]any)
		if !ok {
			continue
		}
		data, _ := source["data"].(string)
		if data == "" {
			continue
		}

		png, err := base64.StdEncoding.DecodeString(data)
		if err != nil || len(png) == 0 {
			return nil, false
		}
		return png, true
	}
	return nil, false
}

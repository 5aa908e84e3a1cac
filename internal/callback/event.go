package callback

import (
	"bytes"
	"encoding/json"
	"fmt"

	"selcom-gateway/internal/model"
)

// Selcom has sent the order reference under both names depending on API version.
var orderRefFields = []string{"utilityref", "order_id"}

// ParseEvent decodes an IPN body. Numeric references are kept verbatim.
func ParseEvent(raw []byte) (model.WebhookEvent, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var data map[string]any
	if err := decoder.Decode(&data); err != nil {
		return model.WebhookEvent{Raw: string(raw)}, fmt.Errorf("decode webhook body: %w", err)
	}

	event := model.WebhookEvent{
		Result:  model.Result(model.Text(data["result"])),
		TransID: model.Text(data["transid"]),
		Raw:     string(raw),
	}
	for _, name := range orderRefFields {
		if ref := model.Text(data[name]); ref != "" {
			event.OrderRef = ref
			break
		}
	}
	return event, nil
}

package nodes

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// decodeConfig decodes a merged config map into a typed struct. Inputs are
// weakly typed so editor values such as "30" still decode into numbers.
func decodeConfig(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

package exchange

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// The action hash covers the msgpack bytes, so every encoder writes keys in
// the exact order the venue serializes them.

func EncodeOrderAction(action OrderAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Orders) == 0 {
		return nil, errors.New("action orders are required")
	}
	if action.Grouping == "" {
		action.Grouping = "na"
	}
	return encodeWith(func(enc *msgpack.Encoder) error {
		if err := enc.EncodeMapLen(3); err != nil {
			return err
		}
		if err := encodeString(enc, "type", action.Type); err != nil {
			return err
		}
		if err := encodeArrayKey(enc, "orders", len(action.Orders)); err != nil {
			return err
		}
		for _, order := range action.Orders {
			if err := encodeOrderWire(enc, order); err != nil {
				return err
			}
		}
		return encodeString(enc, "grouping", action.Grouping)
	})
}

func EncodeCancelByCloidAction(action CancelByCloidAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Cancels) == 0 {
		return nil, errors.New("action cancels are required")
	}
	return encodeWith(func(enc *msgpack.Encoder) error {
		if err := enc.EncodeMapLen(2); err != nil {
			return err
		}
		if err := encodeString(enc, "type", action.Type); err != nil {
			return err
		}
		if err := encodeArrayKey(enc, "cancels", len(action.Cancels)); err != nil {
			return err
		}
		for _, cancel := range action.Cancels {
			if err := enc.EncodeMapLen(2); err != nil {
				return err
			}
			if err := encodeInt(enc, "asset", int64(cancel.Asset)); err != nil {
				return err
			}
			if err := encodeString(enc, "cloid", cancel.Cloid); err != nil {
				return err
			}
		}
		return nil
	})
}

func EncodeUpdateLeverageAction(action UpdateLeverageAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if action.Leverage <= 0 {
		return nil, errors.New("leverage must be > 0")
	}
	return encodeWith(func(enc *msgpack.Encoder) error {
		if err := enc.EncodeMapLen(4); err != nil {
			return err
		}
		if err := encodeString(enc, "type", action.Type); err != nil {
			return err
		}
		if err := encodeInt(enc, "asset", int64(action.Asset)); err != nil {
			return err
		}
		if err := encodeBool(enc, "isCross", action.IsCross); err != nil {
			return err
		}
		return encodeInt(enc, "leverage", int64(action.Leverage))
	})
}

func encodeOrderWire(enc *msgpack.Encoder, order OrderWire) error {
	if order.OrderType.Limit == nil {
		return errors.New("limit order type required")
	}
	mapLen := 6
	if order.Cloid != "" {
		mapLen++
	}
	if err := enc.EncodeMapLen(mapLen); err != nil {
		return err
	}
	if err := encodeInt(enc, "a", int64(order.Asset)); err != nil {
		return err
	}
	if err := encodeBool(enc, "b", order.IsBuy); err != nil {
		return err
	}
	if err := encodeString(enc, "p", order.Price); err != nil {
		return err
	}
	if err := encodeString(enc, "s", order.Size); err != nil {
		return err
	}
	if err := encodeBool(enc, "r", order.ReduceOnly); err != nil {
		return err
	}
	if err := enc.EncodeString("t"); err != nil {
		return err
	}
	// {"limit": {"tif": ...}}
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := enc.EncodeString("limit"); err != nil {
		return err
	}
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := encodeString(enc, "tif", string(order.OrderType.Limit.Tif)); err != nil {
		return err
	}
	if order.Cloid != "" {
		return encodeString(enc, "c", order.Cloid)
	}
	return nil
}

func encodeWith(fn func(enc *msgpack.Encoder) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := fn(msgpack.NewEncoder(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeString(enc *msgpack.Encoder, key, value string) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeString(value)
}

func encodeInt(enc *msgpack.Encoder, key string, value int64) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeInt(value)
}

func encodeBool(enc *msgpack.Encoder, key string, value bool) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeBool(value)
}

func encodeArrayKey(enc *msgpack.Encoder, key string, n int) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeArrayLen(n)
}

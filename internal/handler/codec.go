package handler

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/money"
	"github.com/xenking/checkout-engine/internal/domain/order"
	"github.com/xenking/checkout-engine/internal/domain/payment"
)

// decodePlaceOrder reads a place-order request body.
func decodePlaceOrder(d *jx.Decoder) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "fullName":
			req.Contact.FullName, err = optStr(d)
		case "email":
			req.Contact.Email, err = optStr(d)
		case "phone":
			req.Contact.Phone, err = optStr(d)
		case "address":
			err = decodeAddress(d, &req.Address)
		case "note":
			req.Note, err = optStr(d)
		case "items":
			req.Items, err = decodeLines(d)
		case "voucherCode":
			req.VoucherCode, err = optStr(d)
		case "shippingFee":
			req.ShippingFee, err = decodeMoney(d, "shippingFee")
		case "paymentMethod":
			var m string
			m, err = optStr(d)
			req.PaymentMethod = payment.Method(strings.ToUpper(strings.TrimSpace(m)))
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "decode %q", key)
	})
	return req, err
}

func decodeAddress(d *jx.Decoder, a *order.Address) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "line":
			a.Line, err = optStr(d)
		case "ward":
			a.Ward, err = optStr(d)
		case "district":
			a.District, err = optStr(d)
		case "city":
			a.City, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodeLines(d *jx.Decoder) ([]catalog.Line, error) {
	var lines []catalog.Line
	err := d.Arr(func(d *jx.Decoder) error {
		var line catalog.Line
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "itemId":
				v, err := d.Int64()
				line.ItemID = v
				return err
			case "quantity":
				v, err := d.Int()
				line.Quantity = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		lines = append(lines, line)
		return nil
	})
	return lines, err
}

// decodeMoney reads an amount given as a JSON number or string without
// going through float64. Null yields nil.
func decodeMoney(d *jx.Decoder, field string) (*decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		raw = string(n)
	default:
		if err := d.Skip(); err != nil {
			return nil, err
		}
		return nil, &order.ValidationError{Field: field, Reason: "must be a number"}
	}

	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, &order.ValidationError{Field: field, Reason: "must be a number"}
	}
	return &v, nil
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func encodeOrderResult(e *jx.Encoder, res *order.PlaceOrderResult) {
	o := res.Order

	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(o.ID.String())
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("paymentStatus")
	e.Str(string(o.PaymentStatus))
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	if o.VoucherCode != "" {
		e.FieldStart("voucherCode")
		e.Str(o.VoucherCode)
	}

	moneyField(e, "itemsTotal", o.ItemsTotal)
	moneyField(e, "discountTotal", o.DiscountTotal)
	moneyField(e, "shippingFee", o.ShippingFee)
	moneyField(e, "shippingDiscount", o.ShippingDiscount)
	moneyField(e, "totalPrice", o.TotalPrice)

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("itemId")
		e.Int64(it.ItemID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		moneyField(e, "unitPrice", it.UnitPrice)
		moneyField(e, "lineTotal", it.LineTotal)
		e.ObjEnd()
	}
	e.ArrEnd()

	if res.Payment != nil {
		e.FieldStart("paymentId")
		e.Str(res.Payment.ID.String())
	}
	if res.PaymentURL != "" {
		e.FieldStart("paymentUrl")
		e.Str(res.PaymentURL)
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}

func moneyField(e *jx.Encoder, name string, v decimal.Decimal) {
	e.FieldStart(name)
	e.Str(money.Format(v))
}

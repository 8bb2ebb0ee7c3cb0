package api

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/swaplane/swaplane-backend/internal/order"
	"github.com/swaplane/swaplane-backend/internal/relayer"
)

// OrderDTO is the wire form of swap terms. Amounts and salt travel as decimal
// strings ("0x"-prefixed hex is also accepted) because 256-bit integers do not
// survive JSON numbers.
type OrderDTO struct {
	Maker            string `json:"maker"`
	MakerAsset       string `json:"makerAsset"`
	TakerAsset       string `json:"takerAsset"`
	MakingAmount     string `json:"makingAmount"`
	TakingAmount     string `json:"takingAmount"`
	Receiver         string `json:"receiver"`
	Hashlock         string `json:"hashlock,omitempty"`
	Salt             string `json:"salt,omitempty"`
	SrcChainID       string `json:"srcChainId"`
	DstChainID       string `json:"dstChainId"`
	SrcEscrowAddress string `json:"srcEscrowAddress,omitempty"`
	DstEscrowAddress string `json:"dstEscrowAddress,omitempty"`
}

func (d OrderDTO) toOrder() (order.Order, error) {
	o := order.Order{
		Maker:         d.Maker,
		MakerAsset:    d.MakerAsset,
		TakerAsset:    d.TakerAsset,
		Receiver:      d.Receiver,
		Hashlock:      d.Hashlock,
		SrcChainID:    order.ChainID(d.SrcChainID),
		DstChainID:    order.ChainID(d.DstChainID),
		SrcEscrowAddr: d.SrcEscrowAddress,
		DstEscrowAddr: d.DstEscrowAddress,
	}

	var err error
	if o.MakingAmount, err = parseAmount(d.MakingAmount, "makingAmount"); err != nil {
		return order.Order{}, err
	}
	if o.TakingAmount, err = parseAmount(d.TakingAmount, "takingAmount"); err != nil {
		return order.Order{}, err
	}
	if d.Salt != "" {
		if o.Salt, err = parseAmount(d.Salt, "salt"); err != nil {
			return order.Order{}, err
		}
	}
	return o, nil
}

func orderDTO(o order.Order) OrderDTO {
	return OrderDTO{
		Maker:            o.Maker,
		MakerAsset:       o.MakerAsset,
		TakerAsset:       o.TakerAsset,
		MakingAmount:     bigString(o.MakingAmount),
		TakingAmount:     bigString(o.TakingAmount),
		Receiver:         o.Receiver,
		Hashlock:         o.Hashlock,
		Salt:             bigString(o.Salt),
		SrcChainID:       string(o.SrcChainID),
		DstChainID:       string(o.DstChainID),
		SrcEscrowAddress: o.SrcEscrowAddr,
		DstEscrowAddress: o.DstEscrowAddr,
	}
}

func parseAmount(s, field string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s", field)
	}
	return v, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// RecordDTO is the public view of a stored order. The secret is deliberately
// absent; it leaves the relayer only through the secret request flow.
type RecordDTO struct {
	OrderHash string          `json:"orderHash"`
	Order     OrderDTO        `json:"order"`
	Status    string          `json:"status"`
	Taker     string          `json:"taker,omitempty"`
	Extension json.RawMessage `json:"extension,omitempty"`
	Signature string          `json:"signature,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func recordDTO(rec *order.Record) RecordDTO {
	return RecordDTO{
		OrderHash: rec.OrderHash,
		Order:     orderDTO(rec.Order),
		Status:    string(rec.Status),
		Taker:     rec.Taker,
		Extension: rec.Extension,
		Signature: rec.Signature,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// OrderDataDTO is the response to a data generation request. The secret is
// handed to the maker exactly once and never stored.
type OrderDataDTO struct {
	Order      OrderDTO `json:"order"`
	OrderHash  string   `json:"orderHash"`
	Secret     string   `json:"secret"`
	SecretHash string   `json:"secretHash"`
}

func orderDataDTO(d *relayer.OrderData) OrderDataDTO {
	return OrderDataDTO{
		Order:      orderDTO(d.Order),
		OrderHash:  d.OrderHash,
		Secret:     d.Secret,
		SecretHash: d.SecretHash,
	}
}

type GenerateOrderDataRequest struct {
	Order OrderDTO `json:"order"`
}

type CreateOrderRequest struct {
	Order     OrderDTO `json:"order"`
	Signature string   `json:"signature"`
}

type CreateCompleteOrderRequest struct {
	Order      OrderDTO        `json:"order"`
	Signature  string          `json:"signature"`
	Secret     string          `json:"secret"`
	SecretHash string          `json:"secretHash"`
	Extension  json.RawMessage `json:"extension,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type OrdersPageDTO struct {
	Items   []RecordDTO `json:"items"`
	Total   int         `json:"total"`
	HasMore bool        `json:"hasMore"`
}

type ReadyDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in       string
		ccy      string
		want     int64
		wantErr  bool
		wantText string
	}{
		{in: "10", ccy: "GBP", want: 1000, wantText: "10.00 GBP"},
		{in: "10.5", ccy: "GBP", want: 1050, wantText: "10.50 GBP"},
		{in: "0.01", ccy: "USD", want: 1, wantText: "0.01 USD"},
		{in: "1500", ccy: "JPY", want: 1500, wantText: "1500 JPY"},
		{in: "1.005", ccy: "GBP", wantErr: true},
		{in: "1.5", ccy: "JPY", wantErr: true},
		{in: "ten", ccy: "GBP", wantErr: true},
		{in: "10", ccy: "XYZW", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in+" "+tt.ccy, func(t *testing.T) {
			got, err := ParseAmount(tt.in, tt.ccy)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Quantity)
			assert.Equal(t, tt.wantText, got.String())
		})
	}
}

func TestAmountArithmetic(t *testing.T) {
	ten := NewAmount(1000, "GBP")
	five := NewAmount(500, "GBP")

	sum, err := ten.Add(five)
	require.NoError(t, err)
	assert.Equal(t, NewAmount(1500, "GBP"), sum)

	diff, err := ten.Sub(five)
	require.NoError(t, err)
	assert.Equal(t, five, diff)

	cmp, err := five.Cmp(ten)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	total, err := Sum("GBP", ten, five, five)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), total.Quantity)

	empty, err := Sum("GBP")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestAmountOverflow(t *testing.T) {
	tests := []struct {
		name string
		op   func() (Amount, error)
		want int64
		err  bool
	}{
		{"add to max", func() (Amount, error) { return NewAmount(math.MaxInt64, "GBP").Add(NewAmount(1, "GBP")) }, 0, true},
		{"add two max", func() (Amount, error) { return NewAmount(math.MaxInt64, "GBP").Add(NewAmount(math.MaxInt64, "GBP")) }, 0, true},
		{"add below min", func() (Amount, error) { return NewAmount(math.MinInt64, "GBP").Add(NewAmount(-1, "GBP")) }, 0, true},
		{"add up to max", func() (Amount, error) { return NewAmount(math.MaxInt64-1, "GBP").Add(NewAmount(1, "GBP")) }, math.MaxInt64, false},
		{"add negative", func() (Amount, error) { return NewAmount(math.MaxInt64, "GBP").Add(NewAmount(-5, "GBP")) }, math.MaxInt64 - 5, false},
		{"sub below min", func() (Amount, error) { return NewAmount(math.MinInt64, "GBP").Sub(NewAmount(1, "GBP")) }, 0, true},
		{"sub min from zero", func() (Amount, error) { return Zero("GBP").Sub(NewAmount(math.MinInt64, "GBP")) }, 0, true},
		{"sub negative", func() (Amount, error) { return NewAmount(10, "GBP").Sub(NewAmount(-5, "GBP")) }, 15, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op()
			if tt.err {
				assert.ErrorIs(t, err, ErrAmountOverflow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Quantity)
		})
	}

	_, err := Sum("GBP", NewAmount(math.MaxInt64, "GBP"), NewAmount(2, "GBP"))
	assert.ErrorIs(t, err, ErrAmountOverflow)
}

func TestAmountCurrencyMismatch(t *testing.T) {
	_, err := NewAmount(100, "GBP").Add(NewAmount(100, "USD"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCurrencyMismatch))
	assert.Equal(t, "Token mismatch: GBP vs USD", err.Error())

	_, err = NewAmount(100, "GBP").Cmp(NewAmount(100, "USD"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = Sum("GBP", NewAmount(1, "USD"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestIOUDerivations(t *testing.T) {
	alice := Party{Name: "Alice", Address: common.HexToAddress("0xa1")}
	bob := Party{Name: "Bob", Address: common.HexToAddress("0xb0")}
	charlie := Party{Name: "Charlie", Address: common.HexToAddress("0xc4")}

	iou := NewIOU(NewAmount(100, "GBP"), alice, bob)
	assert.NotEmpty(t, iou.LinearID)
	assert.Equal(t, Zero("GBP"), iou.Paid)
	assert.Equal(t, []Party{alice, bob}, iou.Participants())
	assert.Equal(t,
		"IOU("+iou.LinearID+"): Bob owes Alice 1.00 GBP and has paid 0.00 GBP so far.",
		iou.String())

	paid, err := iou.Pay(NewAmount(40, "GBP"))
	require.NoError(t, err)
	assert.Equal(t, int64(40), paid.Paid.Quantity)
	assert.Equal(t, int64(0), iou.Paid.Quantity, "Pay must not mutate the receiver")
	assert.Equal(t, iou.LinearID, paid.LinearID)

	out, err := paid.Outstanding()
	require.NoError(t, err)
	assert.Equal(t, int64(60), out.Quantity)

	moved := iou.WithNewLender(charlie)
	assert.Equal(t, charlie, moved.Lender)
	assert.Equal(t, alice, iou.Lender)

	_, err = iou.Pay(NewAmount(1, "USD"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	other := NewIOU(NewAmount(100, "GBP"), alice, bob)
	assert.NotEqual(t, iou.LinearID, other.LinearID)
}

package risk

import (
	"context"
	"errors"
	"testing"

	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pairing(percent, min, max string) domain.Pairing {
	p := domain.NewPairing("m1", "f1")
	p.ID = "p1"
	p.VolumePercent = d(percent)
	p.MinVolume = d(min)
	p.MaxVolume = d(max)
	return p
}

func rejectionCode(t *testing.T, err error) string {
	t.Helper()
	var vr *domain.ValidationRejection
	require.True(t, errors.As(err, &vr), "expected ValidationRejection, got %v", err)
	return vr.Code
}

func TestComputeFollowerVolume_HalfLot(t *testing.T) {
	t.Parallel()

	got, err := ComputeFollowerVolume(Input{
		Symbol:       "EURUSD",
		MasterVolume: d("1.0"),
		Pairing:      pairing("50", "0.01", "10"),
	})

	require.NoError(t, err)
	assert.Equal(t, "0.5", got.String())
}

func TestComputeFollowerVolume_RiskCap(t *testing.T) {
	t.Parallel()

	p := pairing("50", "0.01", "10")
	p.MaxRiskPercent = d("1")

	got, err := ComputeFollowerVolume(Input{
		Symbol:         "EURUSD",
		MasterVolume:   d("1.0"),
		Pairing:        p,
		FollowerEquity: d("1000"),
		Spec:           domain.SymbolSpec{RiskPerLot: d("1000")},
	})

	require.NoError(t, err)
	assert.Equal(t, "0.01", got.String())
}

func TestComputeFollowerVolume_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       Input
		want     string
		wantCode string
	}{
		{
			name: "equity ratio scales",
			in: Input{Symbol: "EURUSD", MasterVolume: d("1"), Pairing: pairing("100", "0.01", "100"),
				FollowerEquity: d("5000"), MasterEquity: d("10000")},
			want: "0.5",
		},
		{
			name: "unknown master equity skips ratio",
			in: Input{Symbol: "EURUSD", MasterVolume: d("1"), Pairing: pairing("100", "0.01", "100"),
				FollowerEquity: d("5000")},
			want: "1",
		},
		{
			name: "clamped to max",
			in:   Input{Symbol: "EURUSD", MasterVolume: d("50"), Pairing: pairing("100", "0.01", "10")},
			want: "10",
		},
		{
			name: "raised to min",
			in:   Input{Symbol: "EURUSD", MasterVolume: d("0.01"), Pairing: pairing("10", "0.01", "10")},
			want: "0.01",
		},
		{
			name: "floored to lot step",
			in:   Input{Symbol: "EURUSD", MasterVolume: d("0.37"), Pairing: pairing("50", "0.01", "10")},
			want: "0.18",
		},
		{
			name: "custom lot step",
			in: Input{Symbol: "US30", MasterVolume: d("1.37"), Pairing: pairing("100", "0.1", "10"),
				Spec: domain.SymbolSpec{LotStep: d("0.1")}},
			want: "1.3",
		},
		{
			name: "cap below min rejects",
			in: Input{Symbol: "EURUSD", MasterVolume: d("1"), Pairing: func() domain.Pairing {
				p := pairing("100", "0.1", "10")
				p.MaxRiskPercent = d("1")
				return p
			}(), FollowerEquity: d("100"), Spec: domain.SymbolSpec{RiskPerLot: d("1000")}},
			wantCode: domain.RejectBelowMinVolume,
		},
		{
			name: "cap with unknown follower equity rejects",
			in: Input{Symbol: "EURUSD", MasterVolume: d("10"), Pairing: func() domain.Pairing {
				p := pairing("50", "0.01", "10")
				p.MaxRiskPercent = d("1")
				return p
			}(), Spec: domain.SymbolSpec{RiskPerLot: d("1000")}},
			wantCode: domain.RejectRiskUnknown,
		},
		{
			name: "cap with unknown per-lot risk rejects",
			in: Input{Symbol: "EURUSD", MasterVolume: d("1"), Pairing: func() domain.Pairing {
				p := pairing("50", "0.01", "10")
				p.MaxRiskPercent = d("1")
				return p
			}(), FollowerEquity: d("10000")},
			wantCode: domain.RejectRiskUnknown,
		},
		{
			name: "inactive pairing",
			in: Input{Symbol: "EURUSD", MasterVolume: d("1"), Pairing: func() domain.Pairing {
				p := pairing("100", "0.01", "10")
				p.IsActive = false
				return p
			}()},
			wantCode: domain.RejectPairingInactive,
		},
		{
			name: "symbol not allowed",
			in: Input{Symbol: "XAUUSD", MasterVolume: d("1"), Pairing: func() domain.Pairing {
				p := pairing("100", "0.01", "10")
				p.AllowedSymbols = []string{"EURUSD"}
				return p
			}()},
			wantCode: domain.RejectSymbolNotAllowed,
		},
		{
			name: "symbol excluded",
			in: Input{Symbol: "XAUUSD", MasterVolume: d("1"), Pairing: func() domain.Pairing {
				p := pairing("100", "0.01", "10")
				p.ExcludedSymbols = []string{"XAUUSD"}
				return p
			}()},
			wantCode: domain.RejectSymbolNotAllowed,
		},
		{
			name:     "zero master volume",
			in:       Input{Symbol: "EURUSD", MasterVolume: decimal.Zero, Pairing: pairing("100", "0.01", "10")},
			wantCode: domain.RejectInvalidInput,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ComputeFollowerVolume(tt.in)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, rejectionCode(t, err))
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestComputeFollowerVolume_Bounds(t *testing.T) {
	t.Parallel()

	p := pairing("37", "0.05", "3")
	p.MaxRiskPercent = d("20")

	for _, mv := range []string{"0.01", "0.1", "0.77", "1", "4.2", "25", "300"} {
		for _, eq := range []string{"0", "500", "10000", "250000"} {
			got, err := ComputeFollowerVolume(Input{
				Symbol: "EURUSD", MasterVolume: d(mv), Pairing: p,
				FollowerEquity: d(eq), MasterEquity: d("10000"),
				Spec: domain.SymbolSpec{RiskPerLot: d("100")},
			})
			if eq == "0" {
				assert.Equal(t, domain.RejectRiskUnknown, rejectionCode(t, err), "mv=%s", mv)
				continue
			}
			if err != nil {
				assert.Equal(t, domain.RejectBelowMinVolume, rejectionCode(t, err))
				continue
			}
			assert.True(t, got.GreaterThanOrEqual(p.MinVolume), "mv=%s eq=%s got=%s", mv, eq, got)
			assert.True(t, got.LessThanOrEqual(p.MaxVolume), "mv=%s eq=%s got=%s", mv, eq, got)
			limit := d(eq).Mul(p.MaxRiskPercent).Div(hundred)
			assert.True(t, got.Mul(d("100")).LessThanOrEqual(limit), "risk cap exceeded: mv=%s eq=%s got=%s", mv, eq, got)
		}
	}
}

type stubProvider struct {
	spec domain.SymbolSpec
	err  error
}

func (s stubProvider) SymbolSpec(context.Context, string, string) (domain.SymbolSpec, error) {
	return s.spec, s.err
}

func TestResolver(t *testing.T) {
	t.Parallel()

	table := SpecTable{
		LotStep:    d("0.01"),
		RiskPerLot: d("100"),
		Symbols:    map[string]domain.SymbolSpec{"XAUUSD": {RiskPerLot: d("1000")}},
	}

	t.Run("table override", func(t *testing.T) {
		spec := NewResolver(nil, table).Resolve(context.Background(), "f1", "xauusd")
		assert.Equal(t, "1000", spec.RiskPerLot.String())
		assert.Equal(t, "0.01", spec.LotStep.String())
	})

	t.Run("provider wins", func(t *testing.T) {
		r := NewResolver(stubProvider{spec: domain.SymbolSpec{LotStep: d("0.1")}}, table)
		spec := r.Resolve(context.Background(), "f1", "EURUSD")
		assert.Equal(t, "0.1", spec.LotStep.String())
		assert.Equal(t, "100", spec.RiskPerLot.String(), "missing provider fields fall back")
	})

	t.Run("provider error falls back", func(t *testing.T) {
		r := NewResolver(stubProvider{err: errors.New("offline")}, table)
		spec := r.Resolve(context.Background(), "f1", "EURUSD")
		assert.Equal(t, "0.01", spec.LotStep.String())
	})
}

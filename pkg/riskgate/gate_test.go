package riskgate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name        string
		risk        catalog.RiskLevel
		permissions []string
		want        Decision
	}{
		{"read executes", catalog.RiskRead, nil, DecisionExecute},
		{"low_write executes", catalog.RiskLowWrite, []string{"orders:write"}, DecisionExecute},
		{"high_write confirms without wildcard", catalog.RiskHighWrite, []string{"catalog:write"}, DecisionConfirm},
		{"high_write executes with wildcard", catalog.RiskHighWrite, []string{"*"}, DecisionExecute},
		{"destructive confirms", catalog.RiskDestructive, []string{"orders:admin"}, DecisionConfirm},
		{"destructive confirms even with wildcard", catalog.RiskDestructive, []string{"*"}, DecisionConfirm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.risk, tt.permissions))
		})
	}
}

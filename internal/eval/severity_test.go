package eval

import (
	"testing"

	"github.com/samijaber1/aegis-relay/internal/sla"
)

func latencyDef(target float64) *sla.SLADefinition {
	return &sla.SLADefinition{
		Slug:          "latency-test",
		ObjectiveType: sla.ObjectiveLatency,
		TargetNumeric: target,
		Operator:      sla.OpLessEqual,
	}
}

func successRateDef(target float64) *sla.SLADefinition {
	return &sla.SLADefinition{
		Slug:          "rate-test",
		ObjectiveType: sla.ObjectiveSuccessRate,
		TargetNumeric: target,
		Operator:      sla.OpGreaterEqual,
	}
}

func TestGradeLowerIsBetter(t *testing.T) {
	tests := []struct {
		name   string
		target float64
		actual float64
		want   sla.Severity
	}{
		{"just over target", 30, 31, sla.SeverityLow},
		{"under 1.5x", 30, 44, sla.SeverityLow},
		{"exactly 1.5x", 30, 45, sla.SeverityMedium},
		{"just past 1.5x", 30, 46, sla.SeverityMedium},
		{"just under 2x", 30, 59, sla.SeverityMedium},
		{"exactly 2x", 30, 60, sla.SeverityHigh},
		{"between 2x and 3x", 30, 75, sla.SeverityHigh},
		{"exactly 3x", 30, 90, sla.SeverityCritical},
		{"far past 3x", 30, 95, sla.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Grade(latencyDef(tt.target), tt.actual)
			if got != tt.want {
				t.Errorf("Grade(target=%v, actual=%v) = %s, want %s", tt.target, tt.actual, got, tt.want)
			}
		})
	}
}

func TestGradeSuccessRateDeficit(t *testing.T) {
	tests := []struct {
		name   string
		target float64
		actual float64
		want   sla.Severity
	}{
		{"hairline miss", 99, 98.5, sla.SeverityLow},
		{"nine point drop", 99, 90, sla.SeverityLow},
		{"ten point drop", 99, 89, sla.SeverityMedium},
		{"twenty point drop", 99, 79, sla.SeverityMedium},
		{"twenty-five point drop", 99, 74, sla.SeverityHigh},
		{"forty point drop", 99, 59, sla.SeverityHigh},
		{"fifty point drop", 99, 49, sla.SeverityCritical},
		{"total outage", 99, 0, sla.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Grade(successRateDef(tt.target), tt.actual)
			if got != tt.want {
				t.Errorf("Grade(target=%v, actual=%v) = %s, want %s", tt.target, tt.actual, got, tt.want)
			}
		})
	}
}

package eval

import (
	"github.com/samijaber1/aegis-relay/internal/sla"
)

// Grade maps the magnitude of a violation to a severity. For
// lower-is-better objectives (latency, freshness, cadence) the grade is
// driven by how many times over target the observed value is; for
// success_rate it is driven by the shortfall in percentage points.
//
// Grade is only meaningful for non-compliant values; callers check the
// threshold operator first.
func Grade(def *sla.SLADefinition, actual float64) sla.Severity {
	if def.ObjectiveType.LowerIsBetter() {
		return gradeRatio(actual / def.TargetNumeric)
	}
	return gradeDeficit(def.TargetNumeric - actual)
}

func gradeRatio(ratio float64) sla.Severity {
	switch {
	case ratio >= 3:
		return sla.SeverityCritical
	case ratio >= 2:
		return sla.SeverityHigh
	case ratio >= 1.5:
		return sla.SeverityMedium
	default:
		return sla.SeverityLow
	}
}

func gradeDeficit(points float64) sla.Severity {
	switch {
	case points >= 50:
		return sla.SeverityCritical
	case points >= 25:
		return sla.SeverityHigh
	case points >= 10:
		return sla.SeverityMedium
	default:
		return sla.SeverityLow
	}
}

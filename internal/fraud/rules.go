package fraud

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"paycore/internal/domain"
	"paycore/internal/risk"
	"paycore/pkg/config"
)

// snapshot is the read-only view every rule of one evaluation sees.
type snapshot struct {
	movement *domain.Movement
	account  *domain.Account
	// history holds the subject's movements created strictly before the
	// evaluated movement, oldest first.
	history      []*domain.Movement
	openDisputes int
	riskWeights  config.RiskConfig
	riskSince    time.Time
}

// evaluate runs one rule against the snapshot and reports whether it
// triggered, with a human-readable reason.
func evaluate(cond domain.RuleCondition, snap *snapshot) (string, bool) {
	switch c := cond.(type) {
	case domain.VelocityCondition:
		return evalVelocity(c, snap)
	case domain.AmountThresholdCondition:
		return evalAmountThreshold(c, snap)
	case domain.GeographicAnomalyCondition:
		return evalGeographic(c, snap)
	case domain.NewUserHighAmountCondition:
		return evalNewUserHighAmount(c, snap)
	case domain.RiskScoreCondition:
		return evalRiskScore(c, snap)
	default:
		return "", false
	}
}

func evalVelocity(c domain.VelocityCondition, snap *snapshot) (string, bool) {
	sender := snap.movement.FromAccountID
	if sender == nil {
		return "", false
	}
	windowStart := snap.movement.CreatedAt.Add(-time.Duration(c.WindowMinutes) * time.Minute)
	count := 0
	for _, m := range snap.history {
		if m.Status != domain.MovementStatusCompleted || m.CreatedAt.Before(windowStart) {
			continue
		}
		if m.FromAccountID == nil || *m.FromAccountID != *sender {
			continue
		}
		count++
	}
	if count < c.MaxTransactions {
		return "", false
	}
	return fmt.Sprintf("%d prior movements within %d minutes (limit %d)", count, c.WindowMinutes, c.MaxTransactions), true
}

func evalAmountThreshold(c domain.AmountThresholdCondition, snap *snapshot) (string, bool) {
	if snap.movement.Amount.LessThan(c.Threshold) {
		return "", false
	}
	return fmt.Sprintf("amount %s at or above threshold %s", snap.movement.Amount, c.Threshold), true
}

func evalGeographic(c domain.GeographicAnomalyCondition, snap *snapshot) (string, bool) {
	current, ok := location(snap.movement.Origin)
	if !ok {
		return "", false
	}
	since := snap.movement.CreatedAt.AddDate(0, 0, -c.LookbackDays)
	seen := make(map[string]bool)
	located := 0
	for _, m := range snap.history {
		if m.Status != domain.MovementStatusCompleted || m.CreatedAt.Before(since) {
			continue
		}
		if loc, ok := location(m.Origin); ok {
			seen[loc] = true
			located++
		}
	}
	if located < c.MinHistory || seen[current] {
		return "", false
	}
	return fmt.Sprintf("origin %s not seen in %d located movements over %d days", current, located, c.LookbackDays), true
}

func evalNewUserHighAmount(c domain.NewUserHighAmountCondition, snap *snapshot) (string, bool) {
	age := snap.movement.CreatedAt.Sub(snap.account.CreatedAt)
	if age >= time.Duration(c.MaxAccountAgeDays)*24*time.Hour {
		return "", false
	}
	if snap.movement.Amount.LessThan(c.MinAmount) {
		return "", false
	}
	return fmt.Sprintf("account %d days old moved %s (limit %s)", int(age.Hours()/24), snap.movement.Amount, c.MinAmount), true
}

func evalRiskScore(c domain.RiskScoreCondition, snap *snapshot) (string, bool) {
	window := append(append([]*domain.Movement{}, snap.history...), snap.movement)
	profile := risk.ProfileFrom(snap.account, window, snap.openDisputes, snap.riskSince)
	score := risk.Score(profile, snap.riskWeights, snap.movement.CreatedAt)
	if score < c.MinScore {
		return "", false
	}
	return fmt.Sprintf("risk score %d at or above %d", score, c.MinScore), true
}

// location identifies where a movement came from: the country when known,
// otherwise the IPv4 /24 or IPv6 /48 network of the origin address.
func location(o domain.Origin) (string, bool) {
	if country := strings.TrimSpace(o.Country); country != "" {
		return "country:" + strings.ToUpper(country), true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(o.IP))
	if err != nil {
		return "", false
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "", false
	}
	return "net:" + prefix.String(), true
}

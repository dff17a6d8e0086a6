package orchestrator

import (
	"context"
	"fmt"
	"time"

	"orgline/internal/domain"
	"orgline/internal/events"
	"orgline/internal/isolation"
)

const AlertStatusEscalation = "status_escalation"

func escalation(report domain.Message, at time.Time) domain.Alert {
	severity := domain.PriorityHigh
	if report.Priority == domain.PriorityCritical {
		severity = domain.PriorityCritical
	}
	msg := fmt.Sprintf("%s reported status %v", report.Sender, report.Content["status"])
	if title, ok := report.Content["title"].(string); ok && title != "" {
		msg = fmt.Sprintf("%s reported status %v for %q", report.Sender, report.Content["status"], title)
	}
	return domain.NewAlert(AlertStatusEscalation, msg, severity, string(report.Sender), at)
}

// DetectAnomalies returns the anomalies that were outside their cooldown and
// raised an alert.
func (o *Orchestrator) DetectAnomalies(ctx context.Context) []isolation.Anomaly {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()
	return o.detectAnomalies(ctx)
}

func (o *Orchestrator) detectAnomalies(ctx context.Context) []isolation.Anomaly {
	var fresh []isolation.Anomaly
	for _, an := range o.detector.Detect(o.store.Actors(), o.now().UTC()) {
		if !o.anomalies.Record(an) {
			continue
		}
		o.logger.Warn("anomaly detected", "kind", an.Kind, "role", an.Subject, "severity", an.Severity, "value", an.Value)
		o.raiseAlert(ctx, an.Alert(), an.Subject)
		fresh = append(fresh, an)
	}
	return fresh
}

// raiseAlert records the alert, hands it to the sinks and addresses an Alert
// message to operations. Sinks behind an open breaker are skipped but the
// alert is still recorded.
func (o *Orchestrator) raiseAlert(ctx context.Context, a domain.Alert, sender domain.Role) {
	o.store.RecordAlert(a)
	res, err := o.fanout.Notify(ctx, a)
	if err != nil {
		o.logger.Warn("alert delivery incomplete", "alert_id", a.ID, "alert_type", a.AlertType, "err", err)
	}
	if !sender.Valid() {
		sender = domain.RoleOperations
	}
	o.recordAlert(ctx, a, sender, res.Delivered)

	msg := domain.NewMessage(sender, domain.RoleOperations, domain.MessageAlert, a.Content(), a.Severity)
	if _, err := o.Send(ctx, msg); err != nil {
		o.logger.Error("alert message dropped", "alert_id", a.ID, "err", err)
	}
}

func (o *Orchestrator) recordAlert(ctx context.Context, a domain.Alert, sender domain.Role, delivered []string) {
	if o.db == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		o.logger.Error("journal alert", "alert_id", a.ID, "err", err)
		return
	}
	defer tx.Rollback()
	if err := o.repo.InsertAlertTx(ctx, tx, o.companyID, a, delivered); err != nil {
		o.logger.Error("journal alert", "alert_id", a.ID, "err", err)
		return
	}
	if err := o.events.Append(ctx, tx, events.AlertRaised, o.companyID, "alert", a.ID, string(sender), events.EventPayload{
		"alert_type": a.AlertType,
		"severity":   string(a.Severity),
		"subject":    a.Subject,
		"delivered":  delivered,
	}); err != nil {
		o.logger.Error("journal alert", "alert_id", a.ID, "err", err)
		return
	}
	if err := tx.Commit(); err != nil {
		o.logger.Error("journal alert", "alert_id", a.ID, "err", err)
	}
}

// services/scheduler.go
package services

import (
	"bytes"
	"encoding/csv"
	"log"
	"strconv"
	"time"

	"number-shop-system/utils"

	"github.com/go-co-op/gocron/v2"
)

// StartMaintenanceScheduler runs the periodic housekeeping jobs: every 10
// minutes stale pending intents are expired, and once a day the intents
// touched in the last 24h are archived to the audit bucket.
func (s *DepositService) StartMaintenanceScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			expired, err := s.ExpireStale(InvoiceExpiresIn)
			if err != nil {
				log.Printf("[Scheduler] intent expiry sweep failed: %v", err)
				return
			}
			if expired > 0 {
				log.Printf("⏰ Expired %d stale deposit intent(s)", expired)
			}
		}),
	)

	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			if err := s.ExportAuditArchive(); err != nil {
				log.Printf("[Scheduler] audit export failed: %v", err)
			}
		}),
	)
}

// ExportAuditArchive uploads a CSV snapshot of the last day's deposit intents
// to the R2 audit bucket. Intents are never deleted locally; this is the
// off-site copy.
func (s *DepositService) ExportAuditArchive() error {
	since := time.Now().Add(-24 * time.Hour)
	intents, err := s.IntentsUpdatedSince(since)
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		log.Println("[Scheduler] no intent activity in the last 24h — skipping audit export")
		return nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{
		"invoice_id", "user_id", "expected_fiat", "asset", "quoted_crypto",
		"bonus_amount", "free_numbers", "status", "paid_amount", "paid_asset",
		"note", "created_at", "confirmed_at",
	})
	for _, it := range intents {
		paidAmount, paidAsset, confirmedAt := "", "", ""
		if it.PaidAmount != nil {
			paidAmount = it.PaidAmount.String()
		}
		if it.PaidAsset != nil {
			paidAsset = *it.PaidAsset
		}
		if it.ConfirmedAt != nil {
			confirmedAt = it.ConfirmedAt.UTC().Format(time.RFC3339)
		}
		_ = w.Write([]string{
			it.InvoiceID,
			strconv.FormatInt(it.UserID, 10),
			it.ExpectedFiat.String(),
			it.Asset,
			it.QuotedCrypto.String(),
			it.BonusAmount.String(),
			strconv.Itoa(it.FreeNumbers),
			string(it.Status),
			paidAmount,
			paidAsset,
			it.Note,
			it.CreatedAt.UTC().Format(time.RFC3339),
			confirmedAt,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	key := "audit/intents-" + time.Now().UTC().Format("2006-01-02") + ".csv"
	url, err := utils.UploadAuditObject(key, "text/csv", buf.Bytes())
	if err != nil {
		return err
	}
	log.Printf("🗄️  Audit archive uploaded: %d intent(s) → %s", len(intents), url)
	return nil
}

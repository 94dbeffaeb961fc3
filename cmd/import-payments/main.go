// import-payments runs the ingestion pipeline over a CSV or XLSX export of
// settled payments. Expected columns, in order:
//
//   customer_name, phone_number, amount, payment_date, reference
//
// The first row is treated as a header. Re-running the same file is safe;
// references already ingested are skipped.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//   REDIS_ADDRESS=... go run ./cmd/import-payments -master <uuid> -file payments.xlsx
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/whatsapp"
	"bitbucket.org/mmdatafocus/collections_backend/workflow"
	"github.com/xuri/excelize/v2"
)

func main() {
	masterId := flag.String("master", "", "master id (required)")
	file := flag.String("file", "", "path to .csv or .xlsx file (required)")
	templateName := flag.String("template", "", "WhatsApp template alias to notify with")
	templateLanguage := flag.String("language", "fr", "template language code")
	message := flag.String("message", "", "free-form WhatsApp message to notify with")
	flag.Parse()

	if *masterId == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	rows, err := readRows(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *file, err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no data rows found")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	master, err := models.GetMasterById(ctx, *masterId)
	if err != nil {
		fmt.Fprintf(os.Stderr, "master not found: %v\n", err)
		os.Exit(1)
	}

	var directive *workflow.NotificationDirective
	if *templateName != "" || *message != "" {
		directive = &workflow.NotificationDirective{
			Message:          *message,
			TemplateName:     *templateName,
			TemplateLanguage: *templateLanguage,
		}
	}

	sender, err := whatsapp.NewClient()
	if err != nil {
		if directive != nil {
			fmt.Fprintf(os.Stderr, "warning: WhatsApp gateway not configured, notifications will be recorded as failed: %v\n", err)
		}
		sender = nil
	}

	results := workflow.IngestPayments(ctx, master, rows, directive, sender)

	ingested, skipped, failed := 0, 0, 0
	for _, res := range results {
		switch {
		case res.Error != "":
			failed++
			fmt.Fprintf(os.Stderr, "row %s: %s\n", res.Reference, res.Error)
		case res.AlreadyIngested:
			skipped++
		default:
			ingested++
		}
	}
	fmt.Printf("Done: %d ingested, %d already ingested, %d failed (of %d rows)\n",
		ingested, skipped, failed, len(results))
	if failed > 0 {
		os.Exit(1)
	}
}

func readRows(path string) ([]workflow.PaymentRow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCsvRows(path)
	case ".xlsx":
		return readXlsxRows(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

func readCsvRows(path string) ([]workflow.PaymentRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	return cellsToRows(records), nil
}

func readXlsxRows(path string) ([]workflow.PaymentRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	return cellsToRows(records), nil
}

func cellsToRows(records [][]string) []workflow.PaymentRow {
	rows := make([]workflow.PaymentRow, 0, len(records))
	for i, record := range records {
		if i == 0 {
			// header
			continue
		}
		for len(record) < 5 {
			record = append(record, "")
		}
		rows = append(rows, workflow.PaymentRow{
			CustomerName: strings.TrimSpace(record[0]),
			PhoneNumber:  strings.TrimSpace(record[1]),
			Amount:       strings.TrimSpace(record[2]),
			PaymentDate:  strings.TrimSpace(record[3]),
			Reference:    strings.TrimSpace(record[4]),
		})
	}
	return rows
}

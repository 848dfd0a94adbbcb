package report

import (
	"fmt"
	"io"
	"time"

	"dealhunter/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Purchases"

var headers = []string{
	"ID", "Item", "Retailer", "Reference", "Status",
	"Price", "Quantity", "Total", "Attempts", "Max Attempts",
	"Order No", "Last Attempt", "Last Error", "Created",
}

// WritePurchases renders the purchase ledger as an xlsx workbook.
func WritePurchases(w io.Writer, purchases []models.Purchase) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i, p := range purchases {
		row := i + 2
		itemName := p.Item.Name
		if itemName == "" {
			itemName = fmt.Sprintf("item %d", p.ItemID)
		}
		lastError := ""
		if n := len(p.Errors); n > 0 {
			lastError = p.Errors[n-1].Message
		}
		lastAttempt := ""
		if p.LastAttemptAt != nil {
			lastAttempt = p.LastAttemptAt.Format(time.DateTime)
		}

		values := []interface{}{
			p.ID, itemName, p.RetailerID, p.Reference, p.Status,
			p.Price, p.Quantity, p.Total, p.AttemptCount, p.MaxAttempts,
			p.OrderNo, lastAttempt, lastError, p.CreatedAt.Format(time.DateTime),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("failed to write row %d: %w", row, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

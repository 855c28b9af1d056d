// Package report renders the profit report as an Excel workbook.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"nexora/backend/internal/domain"
	"nexora/backend/internal/profit"
)

const sheetName = "Profit Report"

// WriteProfitWorkbook writes an xlsx workbook with a summary block followed
// by one row per completed order.
func WriteProfitWorkbook(w io.Writer, summary profit.Summary, orders []domain.Order, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	f.SetCellValue(sheetName, "A1", "Profit Report")
	f.SetCellValue(sheetName, "B1", generatedAt.Format("2006-01-02 15:04"))

	f.SetCellValue(sheetName, "A3", "Total Sold (USDT)")
	f.SetCellValue(sheetName, "B3", summary.TotalSoldUsdt.InexactFloat64())
	f.SetCellValue(sheetName, "A4", "Total Profit (ILS)")
	f.SetCellValue(sheetName, "B4", summary.TotalProfitIls.InexactFloat64())
	f.SetCellValue(sheetName, "A5", "Total Profit (USD)")
	f.SetCellValue(sheetName, "B5", summary.TotalProfitUsd.InexactFloat64())
	f.SetCellValue(sheetName, "A6", "Completed Orders")
	f.SetCellValue(sheetName, "B6", summary.OrderCount)
	f.SetCellValue(sheetName, "A7", "Avg Sell Price (ILS/USDT)")
	if summary.AvgSellPrice != nil {
		f.SetCellValue(sheetName, "B7", summary.AvgSellPrice.InexactFloat64())
	} else {
		f.SetCellValue(sheetName, "B7", "-")
	}

	headers := []string{
		"Completed At", "Order ID", "Customer", "City", "Phone",
		"Amount (USDT)", "Sell Price (ILS)", "Avg Cost (ILS)",
		"Profit (ILS)", "USD/ILS Rate", "Profit (USD)",
	}
	headerRow := 9
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, headerRow)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		f.SetCellValue(sheetName, cell, header)
	}

	for i, order := range orders {
		row := headerRow + 1 + i
		profitIls, profitUsd := profit.Resolve(order)

		completedAt := ""
		if order.CompletedAt != nil {
			completedAt = order.CompletedAt.Format("2006-01-02 15:04")
		}
		values := []any{
			completedAt, order.ID, order.FullName, order.City, order.Phone,
			order.AmountUsdt.InexactFloat64(),
			optionalFloat(order.SellPriceIlsPerUsdt),
			optionalFloat(order.BuyAvgCostIlsPerUsdt),
			profitIls.InexactFloat64(),
			optionalFloat(order.UsdIlsRate),
			profitUsd.InexactFloat64(),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return fmt.Errorf("data cell: %w", err)
			}
			f.SetCellValue(sheetName, cell, value)
		}
	}

	if err := f.SetColWidth(sheetName, "A", "E", 20); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(sheetName, "F", "K", 16); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func optionalFloat(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}

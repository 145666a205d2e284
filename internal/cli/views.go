package cli

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/roach88/txsync/internal/journal"
	"github.com/roach88/txsync/internal/notify"
	"github.com/roach88/txsync/internal/txn"
)

const timeLayout = "2006-01-02 15:04:05"

// transactionList renders records as a table in store order.
type transactionList []txn.Record

func (l transactionList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		fmt.Fprintln(w, "No transactions.")
		return nil
	}

	data := pterm.TableData{{"ID", "Type", "Amount", "Status", "Created"}}
	for _, r := range l {
		var created string
		if ok, err := r.Field("created_at", &created); !ok || err != nil {
			created = "-"
		}
		data = append(data, []string{r.ID, string(r.Type), r.Amount, string(r.Status), created})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}

// printNotification writes one entry the way watch streams them.
func printNotification(w io.Writer, n notify.Entry) {
	line := fmt.Sprintf("%s  %s", n.At.Local().Format(timeLayout), n.Message)
	switch n.Status {
	case txn.StatusProcessed:
		pterm.Success.WithWriter(w).Println(line)
	case txn.StatusFailed:
		pterm.Error.WithWriter(w).Println(line)
	default:
		pterm.Info.WithWriter(w).Println(line)
	}
}

// journalList renders journal entries oldest first.
type journalList []journal.Entry

func (l journalList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		fmt.Fprintln(w, "Journal is empty.")
		return nil
	}

	data := pterm.TableData{{"Seq", "At", "Source", "Kind", "Transaction", "Status", "Hash"}}
	for _, e := range l {
		hash := e.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		data = append(data, []string{
			fmt.Sprint(e.Seq),
			e.At.Local().Format(timeLayout),
			string(e.Source),
			string(e.Kind),
			e.TransactionID,
			e.Status,
			hash,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}

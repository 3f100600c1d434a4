package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/searchops/indexmigrate/internal/engine"
)

var listFlags struct {
	esOnly     bool
	justPrefix string
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show every index and its versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, ctx, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		rows, err := a.engine.List(ctx, engine.ListOptions{
			ESOnly:     listFlags.esOnly,
			JustPrefix: listFlags.justPrefix,
		})
		if err != nil {
			return err
		}
		fmt.Println(renderListTable(rows, listFlags.esOnly))
		return nil
	},
}

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	tableActiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	tableDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func renderListTable(rows []engine.ListRow, esOnly bool) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableDimStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case row < len(rows) && rows[row].Active:
				return tableActiveStyle
			default:
				return lipgloss.NewStyle()
			}
		})

	if esOnly {
		t.Headers("PHYSICAL INDEX", "DOCS")
		for _, r := range rows {
			t.Row(r.Physical, strconv.FormatInt(r.DocCount, 10))
		}
		return t.Render()
	}

	t.Headers("INDEX", "VERSION", "ACTIVE", "DOCS", "TAG", "CREATED", "STATE")
	for _, r := range rows {
		if r.VersionID == 0 {
			t.Row(r.Index, tableDimStyle.Render("current (not created)"), "", "", "", "", "")
			continue
		}
		active := ""
		if r.Active {
			active = "yes"
		}
		state := ""
		if r.Deleted {
			state = "deleted"
		}
		t.Row(
			r.Index,
			r.Physical,
			active,
			strconv.FormatInt(r.DocCount, 10),
			r.Tag,
			r.CreatedAt.Format("2006-01-02 15:04"),
			state,
		)
	}
	return t.Render()
}

func init() {
	listCmd.Flags().BoolVar(&listFlags.esOnly, "es-only", false,
		"list physical indexes straight from the search engine")
	listCmd.Flags().StringVar(&listFlags.justPrefix, "just-prefix", "",
		"restrict to physical names with this prefix")
}

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kandev/diffview/internal/i18n"
)

var errTranslationsInvalid = errors.New("translations are inconsistent")

func newI18nCmd(tr *i18n.Translator) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "i18n",
		Short: tr.T("cli.i18nShort"),
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: tr.T("cli.i18nCheckShort"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runI18nCheck(tr, cmd.OutOrStdout())
		},
	})
	return cmd
}

// runI18nCheck prints a report per catalog and fails when any catalog differs
// from the English base.
func runI18nCheck(tr *i18n.Translator, out io.Writer) error {
	fmt.Fprintln(out, tr.Tf("i18n.baseKeys", len(tr.BaseKeys())))
	fmt.Fprintln(out)

	ok := true
	for _, r := range tr.Validate() {
		if r.Valid() {
			fmt.Fprintln(out, "✅ "+tr.Tf("i18n.valid", r.Language))
			continue
		}
		ok = false
		fmt.Fprintln(out, "❌ "+tr.Tf("i18n.invalid", r.Language))
		if len(r.Missing) > 0 {
			fmt.Fprintln(out, "   "+tr.Tf("i18n.missing", len(r.Missing)))
			for _, k := range r.Missing {
				fmt.Fprintln(out, "     - "+k)
			}
		}
		if len(r.Extra) > 0 {
			fmt.Fprintln(out, "   "+tr.Tf("i18n.extra", len(r.Extra)))
			for _, k := range r.Extra {
				fmt.Fprintln(out, "     + "+k)
			}
		}
	}

	fmt.Fprintln(out)
	if !ok {
		fmt.Fprintln(out, tr.T("i18n.someInvalid"))
		return errTranslationsInvalid
	}
	fmt.Fprintln(out, tr.T("i18n.allValid"))
	return nil
}

// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aifimmunology/hise/ledger"
)

var ledgerCSV bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List the files downloaded into the workspace",
	Long: `List the files downloaded into the workspace, as recorded in its download
ledger. Uploaded results may cite only these files.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initSDK(); err != nil {
			return err
		}
		table, err := ledger.Default(false).Table()
		if err != nil {
			return err
		}
		if ledgerCSV {
			return table.WriteCSV(cmd.OutOrStdout())
		}
		table.Render(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	ledgerCmd.Flags().BoolVar(&ledgerCSV, "csv", false, "write the ledger as CSV")
	RootCmd.AddCommand(ledgerCmd)
}

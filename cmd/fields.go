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

	"github.com/aifimmunology/hise/catalog"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields [collection]",
	Short: "List the fields that can be queried",
	Long: `List the fields that can be queried in searches of HISE's collections.

With a collection argument (e.g. 'sample'), only that collection's fields are
listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initSDK(); err != nil {
			return err
		}
		cat := catalog.New(newClient())
		collections := cat.Collections()
		if len(args) == 1 {
			collections = args
		}
		var fields []catalog.Field
		for _, collection := range collections {
			listed, err := cat.QueryableFields(cmd.Context(), collection)
			if err != nil {
				return err
			}
			fields = append(fields, listed...)
		}
		catalog.Table(fields).Render(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	RootCmd.AddCommand(fieldsCmd)
}

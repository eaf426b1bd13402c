package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mbp-platform/envmodel/internal/gateway"
)

func (a *app) modelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List, export and delete persisted models",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the owner's models",
		Args:  cobra.NoArgs,
		RunE:  a.listModels,
	}

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a model by name",
		Args:  cobra.ExactArgs(1),
		RunE:  a.deleteModel,
	}
	del.Flags().BoolVarP(&a.yes, "yes", "y", false, "skip the confirmation prompt")

	var format, file string
	export := &cobra.Command{
		Use:   "export NAME",
		Short: "Write a model's document as JSON or msgpack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.exportModel(cmd, args[0], format, file)
		},
	}
	export.Flags().StringVarP(&format, "format", "f", "json", "output format: json or msgpack")
	export.Flags().StringVarP(&file, "file", "o", "", "write to file instead of stdout")

	cmd.AddCommand(list, del, export)
	return cmd
}

func (a *app) listModels(cmd *cobra.Command, _ []string) error {
	list, err := a.gw.ModelsByUsername(cmd.Context(), a.profile.Owner)
	if err != nil {
		return fmt.Errorf("list models: %s", gateway.Message(err))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	rows := make([][]string, 0, len(list))
	for _, m := range list {
		nodes, conns := "?", "?"
		if doc, err := m.Document(); err == nil {
			nodes = strconv.Itoa(len(doc.Nodes))
			conns = strconv.Itoa(len(doc.Connections))
		}
		rows = append(rows, []string{m.Name, nodes, conns, m.Description})
	}
	table(cmd.OutOrStdout(), []string{"NAME", "NODES", "CONNECTIONS", "DESCRIPTION"}, rows)
	return nil
}

func (a *app) deleteModel(cmd *cobra.Command, args []string) error {
	name := args[0]
	out := cmd.OutOrStdout()
	if !a.yes {
		fmt.Fprintf(out, "Delete model %q? Registered components stay on the backend. [y/N]: ", name)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Scan()
		if strings.ToLower(strings.TrimSpace(scanner.Text())) != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}
	if err := a.gw.DeleteModel(cmd.Context(), a.profile.Owner, name); err != nil {
		return fmt.Errorf("delete model %s: %s", name, gateway.Message(err))
	}
	fmt.Fprintf(out, "%s deleted %s\n", statusIcon(true), name)
	return nil
}

func (a *app) exportModel(cmd *cobra.Command, name, format, file string) error {
	m, err := gateway.ModelByName(cmd.Context(), a.gw, a.profile.Owner, name)
	if err != nil {
		return fmt.Errorf("load model %s: %s", name, gateway.Message(err))
	}
	doc, err := m.Document()
	if err != nil {
		return fmt.Errorf("decode model %s: %w", name, err)
	}

	var data []byte
	switch format {
	case "json":
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	case "msgpack":
		data, err = msgpack.Marshal(doc)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode model %s: %w", name, err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if file != "" {
		f, err := os.Create(file)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err = w.Write(data)
	return err
}

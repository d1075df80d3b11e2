package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"codeberg.org/opendatahub/odhsync/pkg/manifest"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	serverAddr string
	apiPrefix  = "/apis/odhsync.io/v1"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "odhctl",
		Short: "odhctl controls the open data hub import controller",
		Long:  `A command line tool to manage ImportSources and trigger imports.`,
	}

	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "http://localhost:8080", "The address and port of the odhsync API server")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newResultCommand())
	rootCmd.AddCommand(newValidateCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func sourcesURL(parts ...string) string {
	u := serverAddr + apiPrefix + "/importsources"
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func newApplyCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply an ImportSource manifest by file name",
		Run: func(cmd *cobra.Command, args []string) {
			if file == "" {
				fmt.Println("Error: must specify -f <file>")
				return
			}

			data, err := os.ReadFile(file)
			if err != nil {
				fmt.Printf("Error reading file: %v\n", err)
				return
			}

			var base struct {
				Kind     string `yaml:"kind"`
				Metadata struct {
					Name string `yaml:"name"`
				} `yaml:"metadata"`
			}
			if err := yaml.Unmarshal(data, &base); err != nil {
				fmt.Printf("Error parsing YAML: %v\n", err)
				return
			}
			if base.Kind != manifest.KindImportSource {
				fmt.Printf("Error: Unknown kind %q\n", base.Kind)
				return
			}

			resp, err := http.Post(sourcesURL(), "application/yaml", bytes.NewReader(data))
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 300 {
				body, _ := io.ReadAll(resp.Body)
				fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, string(body))
				return
			}

			fmt.Printf("%s/%s applied\n", base.Kind, base.Metadata.Name)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Manifest file to apply")
	return cmd
}

func newGetCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:     "get [name]",
		Aliases: []string{"sources"},
		Short:   "Display one or many ImportSources",
		Args:    cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			endpoint := sourcesURL()
			if len(args) == 1 {
				endpoint = sourcesURL(args[0])
			}

			resp, err := http.Get(endpoint)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				fmt.Printf("Error: Server returned %d: %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
				return
			}

			var items []map[string]any
			if len(args) == 1 {
				var item map[string]any
				if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
					fmt.Printf("Error decoding server response: %v\n", err)
					return
				}
				items = append(items, item)
			} else if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
				fmt.Printf("Error decoding server response: %v\n", err)
				return
			}

			if output == "yaml" {
				enc := yaml.NewEncoder(os.Stdout)
				defer enc.Close()
				for _, item := range items {
					if err := enc.Encode(item); err != nil {
						fmt.Printf("Error encoding YAML: %v\n", err)
						return
					}
				}
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, '\t', 0)
			fmt.Fprintln(w, "NAME\tSOURCE\tTYPE\tSTATUS\tLAST SYNC\tCREATED\tUPDATED\tDELETED\tERRORS")
			for _, item := range items {
				meta, _ := item["metadata"].(map[string]any)
				spec, _ := item["spec"].(map[string]any)
				status, _ := item["status"].(map[string]any)

				fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
					meta["name"], spec["source"], spec["entityType"],
					valueOr(status, "status", "Pending"), valueOr(status, "lastSync", "-"),
					valueOr(status, "created", 0), valueOr(status, "updated", 0),
					valueOr(status, "deleted", 0), valueOr(status, "errors", 0))
			}
			w.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: table or yaml")
	return cmd
}

func valueOr(m map[string]any, key string, fallback any) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return fallback
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete an ImportSource by name",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name := args[0]

			req, _ := http.NewRequest(http.MethodDelete, sourcesURL(name), nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Printf("ImportSource %q deleted\n", name)
			} else {
				body, _ := io.ReadAll(resp.Body)
				fmt.Printf("Failed to delete (Status: %d): %s\n", resp.StatusCode, string(body))
			}
		},
	}
}

func newSyncCommand() *cobra.Command {
	var (
		full  bool
		mode  string
		since string
		ids   []string
	)

	cmd := &cobra.Command{
		Use:   "sync [name]",
		Short: "Run an import pass for an ImportSource and wait for its result",
		Long: `Run an import pass immediately. Without --full only records changed
since the last checkpoint are fetched; --id restricts the pass to the given
records and leaves the checkpoint alone.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			q := url.Values{}
			if full {
				q.Set("full", "true")
			}
			if mode != "" {
				q.Set("mode", mode)
			}
			if since != "" {
				q.Set("since", since)
			}
			for _, id := range ids {
				q.Add("id", id)
			}

			endpoint := sourcesURL(args[0], "sync")
			if len(q) > 0 {
				endpoint += "?" + q.Encode()
			}

			resp, err := http.Post(endpoint, "application/json", nil)
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			switch resp.StatusCode {
			case http.StatusOK:
				printResult(body)
			case http.StatusConflict:
				fmt.Printf("A pass for %q is already running\n", args[0])
			default:
				fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
			}
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Fetch every record and reconcile deletions")
	cmd.Flags().StringVar(&mode, "mode", "", "Sync mode: normal or reduced")
	cmd.Flags().StringVar(&since, "since", "", "Fetch records changed after this RFC 3339 time")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Only import these record ids")

	return cmd
}

func newImportCommand() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "import [name] [id...]",
		Short: "Queue records of an ImportSource for import",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			body, _ := json.Marshal(map[string]any{"ids": args[1:], "mode": mode})

			resp, err := http.Post(sourcesURL(args[0], "import"), "application/json", bytes.NewReader(body))
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusAccepted {
				fmt.Printf("✓ %d record(s) queued for %q\n", len(args)-1, args[0])
				return
			}
			msg, _ := io.ReadAll(resp.Body)
			fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(msg)))
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Sync mode: normal or reduced")
	return cmd
}

func newResultCommand() *cobra.Command {
	var xlsx string

	cmd := &cobra.Command{
		Use:   "result [name]",
		Short: "Show the result of the last pass of an ImportSource",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			endpoint := sourcesURL(args[0], "result")
			if xlsx != "" {
				endpoint += "?format=xlsx"
			}

			resp, err := http.Get(endpoint)
			if err != nil {
				fmt.Printf("Error connecting to server: %v\n", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				fmt.Printf("Error from server (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
				return
			}

			if xlsx == "" {
				body, _ := io.ReadAll(resp.Body)
				printResult(body)
				return
			}

			f, err := os.Create(xlsx)
			if err != nil {
				fmt.Printf("Error creating file: %v\n", err)
				return
			}
			defer f.Close()

			if _, err := io.Copy(f, resp.Body); err != nil {
				fmt.Printf("Error writing file: %v\n", err)
				return
			}
			fmt.Printf("Audit written to %s\n", xlsx)
		},
	}

	cmd.Flags().StringVar(&xlsx, "xlsx", "", "Write the audit trail of the last pass to this file")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate ImportSource manifests locally",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := manifest.NewParser()
			failed := 0
			for _, file := range args {
				src, err := p.ParseFile(file)
				if err != nil {
					fmt.Printf("✗ %s: %v\n", file, err)
					failed++
					continue
				}
				fmt.Printf("✓ %s: ImportSource/%s\n", file, src.Name)
			}
			if failed > 0 {
				return fmt.Errorf("%d manifest(s) invalid", failed)
			}
			return nil
		},
	}
}

func printResult(body []byte) {
	var res struct {
		Created   int    `json:"created"`
		Updated   int    `json:"updated"`
		Deleted   int    `json:"deleted"`
		Error     int    `json:"error"`
		Changed   int    `json:"objectchanged"`
		Compared  int    `json:"objectcompared"`
		Exception string `json:"exception"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, '\t', 0)
	fmt.Fprintln(w, "CREATED\tUPDATED\tDELETED\tERRORS\tCHANGED\tCOMPARED")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\n", res.Created, res.Updated, res.Deleted, res.Error, res.Changed, res.Compared)
	w.Flush()

	if res.Exception != "" {
		fmt.Printf("Exception: %s\n", res.Exception)
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles"
)

// NewInfoCommand prints account totals
func NewInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show account totals and metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return err
			}
			info, err := client.AccountInfo(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Containers: %d\n", info.ContainerCount)
			fmt.Fprintf(out, "Objects:    %d\n", info.ObjectCount)
			fmt.Fprintf(out, "Bytes:      %d\n", info.BytesUsed)
			for k, v := range info.Metadata {
				fmt.Fprintf(out, "Meta %s: %s\n", k, v)
			}
			return nil
		},
	}
}

// NewContainersCommand lists containers
func NewContainersCommand() *cobra.Command {
	var opts cloudfiles.ListOptions

	cmd := &cobra.Command{
		Use:   "containers",
		Short: "List containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return err
			}
			containers, err := client.ListContainers(cmd.Context(), opts)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCOUNT\tBYTES")
			for _, c := range containers {
				fmt.Fprintf(w, "%s\t%d\t%d\n", c.Name, c.Count, c.Bytes)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only names starting with prefix")
	cmd.Flags().StringVar(&opts.Marker, "marker", "", "start after this name")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of containers")
	return cmd
}

// NewMkdirCommand creates a container
func NewMkdirCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <container>",
		Short: "Create a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return err
			}
			if _, err := client.CreateContainer(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", args[0])
			return nil
		},
	}
}

// NewListCommand lists the objects of a container
func NewListCommand() *cobra.Command {
	var opts cloudfiles.ListOptions
	var long bool

	cmd := &cobra.Command{
		Use:   "ls <container>",
		Short: "List objects in a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return err
			}
			container, err := client.GetContainer(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			it := container.ListAllObjects(cmd.Context(), opts, 0)
			for it.Next() {
				o := it.Object()
				if !long || o.Subdir != "" {
					fmt.Fprintln(w, o.Key())
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", o.Bytes, o.LastModified.Format(time.RFC3339), o.Hash, o.Name)
			}
			if err := it.Err(); err != nil {
				return err
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only names starting with prefix")
	cmd.Flags().StringVar(&opts.Delimiter, "delimiter", "", "collapse names into pseudo-directories")
	cmd.Flags().StringVar(&opts.Marker, "marker", "", "start after this name")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show size, date and hash")
	return cmd
}

// NewPutCommand uploads a local file
func NewPutCommand() *cobra.Command {
	var name, contentType string
	var chunkSize int
	var deleteAfter time.Duration

	cmd := &cobra.Command{
		Use:   "put <container> <file>",
		Short: "Upload a file; '-' reads standard input",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
				if name == "" {
					name = filepath.Base(args[1])
				}
			}
			if name == "" {
				return fmt.Errorf("--name is required when reading standard input")
			}

			obj, err := client.Container(args[0]).CreateObject(ctx, name)
			if err != nil {
				return err
			}
			opts := []cloudfiles.WriteOption{cloudfiles.WithVerify(true)}
			if chunkSize > 0 {
				opts = append(opts, cloudfiles.WithWriteChunkSize(chunkSize))
			}
			if contentType != "" {
				opts = append(opts, cloudfiles.WithContentType(contentType))
			}
			if err := obj.Write(ctx, cloudfiles.Reader(in), opts...); err != nil {
				return err
			}
			if deleteAfter > 0 {
				if err := obj.DeleteAfter(ctx, &deleteAfter); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s/%s\n", obj.ETag(), args[0], name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "object name (default: file base name)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (default: guessed from name)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "upload chunk size in bytes")
	cmd.Flags().DurationVar(&deleteAfter, "delete-after", 0, "schedule deletion after this duration")
	return cmd
}

// NewGetCommand downloads an object
func NewGetCommand() *cobra.Command {
	var output string
	var offset, size int64

	cmd := &cobra.Command{
		Use:   "get <container> <object>",
		Short: "Download an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			obj, err := client.Container(args[0]).CreateObject(ctx, args[1])
			if err != nil {
				return err
			}
			opts := []cloudfiles.ReadOption{cloudfiles.WithOutput(cloudfiles.WriterSink(out))}
			if offset > 0 {
				opts = append(opts, cloudfiles.WithOffset(offset))
			}
			if size > 0 {
				opts = append(opts, cloudfiles.WithSize(size))
			}
			_, err = obj.Read(ctx, opts...)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of standard output")
	cmd.Flags().Int64Var(&offset, "offset", 0, "first byte to read")
	cmd.Flags().Int64Var(&size, "size", 0, "number of bytes to read")
	return cmd
}

// NewDeleteCommand removes objects, or a container when no objects are named
func NewDeleteCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "rm <container> [object...]",
		Short: "Delete objects, or the container itself",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return err
			}
			container := client.Container(args[0])
			out := cmd.OutOrStdout()

			switch {
			case len(args) > 1:
				res, err := container.DeleteObjects(ctx, args[1:], 0)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %d, not found %d\n", res.Deleted, res.NotFound)
				for _, e := range res.Errors {
					fmt.Fprintf(out, "Error: %v\n", e)
				}
				return nil
			case all:
				res, err := container.DeleteAllObjects(ctx, 0)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %d objects\n", res.Deleted)
				fallthrough
			default:
				if err := container.Delete(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted container %s\n", args[0])
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "empty the container before deleting it")
	return cmd
}

// NewTempURLCommand prints a signed temporary URL
func NewTempURLCommand() *cobra.Command {
	var method string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "tempurl <container> <object>",
		Short: "Print a temporary URL for an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return err
			}
			obj, err := client.Container(args[0]).CreateObject(ctx, args[1])
			if err != nil {
				return err
			}
			u, err := obj.TempURL(ctx, method, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method the URL is valid for")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "validity period")
	return cmd
}

// NewCDNCommand publishes or unpublishes a container
func NewCDNCommand() *cobra.Command {
	var ttl time.Duration
	var logs bool

	cmd := &cobra.Command{
		Use:       "cdn <enable|disable|show> <container>",
		Short:     "Manage CDN publication of a container",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"enable", "disable", "show"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := NewClientFromFlags(cmd)
			if err != nil {
				return err
			}
			container := client.Container(args[1])

			switch args[0] {
			case "enable":
				if err := container.EnableCDN(ctx, ttl); err != nil {
					return err
				}
				if cmd.Flags().Changed("log-retention") {
					toggle := container.DisableLogRetention
					if logs {
						toggle = container.EnableLogRetention
					}
					if err := toggle(ctx); err != nil {
						return err
					}
				}
			case "disable":
				if err := container.DisableCDN(ctx); err != nil {
					return err
				}
			case "show":
			default:
				return fmt.Errorf("unknown cdn action %q", args[0])
			}

			if err := container.Load(ctx); err != nil {
				return err
			}
			st := container.State()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Enabled:       %t\n", st.CDNEnabled)
			fmt.Fprintf(out, "URI:           %s\n", st.CDNURI)
			fmt.Fprintf(out, "SSL URI:       %s\n", st.CDNSSLURI)
			fmt.Fprintf(out, "Streaming URI: %s\n", st.CDNStreamingURI)
			fmt.Fprintf(out, "TTL:           %s\n", st.CDNTTL)
			fmt.Fprintf(out, "Log retention: %t\n", st.CDNLogRetention)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", cloudfiles.DefaultCDNTTL, "edge cache lifetime")
	cmd.Flags().BoolVar(&logs, "log-retention", false, "keep CDN access logs")
	return cmd
}

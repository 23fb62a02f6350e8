package output

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jbweber/hearth/internal/manager"
	"github.com/jbweber/hearth/internal/status"
	"github.com/jbweber/hearth/internal/storage"
	"github.com/jbweber/hearth/internal/vm"
)

// TableFormatter formats values as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// Format renders v as a table. Unsupported types are an error.
func (f *TableFormatter) Format(v any) (string, error) {
	switch v := v.(type) {
	case *manager.VMView:
		return f.formatVM(v), nil
	case []manager.VMView:
		return f.formatVMList(v), nil
	case *manager.SnapshotView:
		return f.formatSnapshots([]manager.SnapshotView{*v}), nil
	case []manager.SnapshotView:
		return f.formatSnapshots(v), nil
	case []storage.Image:
		return f.formatImages(v), nil
	case []vm.DomainInfo:
		return f.formatDomains(v), nil
	case *status.TaskStatus:
		return f.formatTask(v), nil
	case *manager.Overview:
		return f.formatOverview(v), nil
	default:
		return "", fmt.Errorf("table output is not supported for %T", v)
	}
}

// table writes rows through a tabwriter.
func (f *TableFormatter) table(header string, rows func(w io.Writer)) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, header)
	}
	rows(w)
	_ = w.Flush()
	return buf.String()
}

func (f *TableFormatter) formatVMList(vms []manager.VMView) string {
	if len(vms) == 0 {
		return "No VMs found\n"
	}
	return f.table("NAME\tID\tSTATE\tCPU\tMEMORY\tVNC\tTASK\tAGE", func(w io.Writer) {
		for _, v := range vms {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%s\t%s\n",
				v.Name, v.ID, v.State, v.CPU, formatMemory(v.MemoryKB), v.VNCPort, formatTask(v.LastTask), age(v.CreatedAt))
		}
	})
}

// formatVM prints the VM row followed by its volumes and interfaces.
func (f *TableFormatter) formatVM(v *manager.VMView) string {
	var buf bytes.Buffer
	buf.WriteString(f.formatVMList([]manager.VMView{*v}))

	if len(v.Volumes) > 0 {
		buf.WriteString("\n")
		buf.WriteString(f.table("VOLUME\tKIND\tDEVICE\tBUS\tPATH", func(w io.Writer) {
			for _, vol := range v.Volumes {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", vol.ID, vol.Kind, vol.Device, vol.Bus, vol.Path)
			}
		}))
	}
	if len(v.Interfaces) > 0 {
		buf.WriteString("\n")
		buf.WriteString(f.table("INTERFACE\tMAC\tNETWORK\tIP", func(w io.Writer) {
			for _, i := range v.Interfaces {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", i.ID, i.MAC, i.Network, dash(i.IP))
			}
		}))
	}
	if v.LastTask != nil && v.LastTask.Result != "" {
		fmt.Fprintf(&buf, "\nLast task %s failed: %s\n", v.LastTask.Name, v.LastTask.Result)
	}
	return buf.String()
}

func (f *TableFormatter) formatSnapshots(snaps []manager.SnapshotView) string {
	if len(snaps) == 0 {
		return "No snapshots found\n"
	}
	return f.table("NAME\tID\tSTATE\tPARENT\tTASK\tAGE", func(w io.Writer) {
		for _, s := range snaps {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.Name, s.ID, dash(s.State), dash(s.Parent), formatTask(s.LastTask), age(s.CreatedAt))
		}
	})
}

func (f *TableFormatter) formatImages(images []storage.Image) string {
	if len(images) == 0 {
		return "No images found\n"
	}
	return f.table("NAME\tFORMAT\tSIZE\tLABEL\tAGE", func(w io.Writer) {
		for _, img := range images {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				img.Name, dash(string(img.Format)), formatBytes(img.Size), dash(img.Label), age(img.Modified))
		}
	})
}

func (f *TableFormatter) formatDomains(domains []vm.DomainInfo) string {
	if len(domains) == 0 {
		return "No domains found\n"
	}
	return f.table("NAME\tUUID\tSTATE\tCPUS\tMEMORY", func(w io.Writer) {
		for _, d := range domains {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.Name, d.UUID, d.State, d.CPUs, formatMemory(d.MemoryKB))
		}
	})
}

func (f *TableFormatter) formatTask(t *status.TaskStatus) string {
	return f.table("ID\tNAME\tSTATE\tKIND\tRESULT", func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, dash(t.Name), t.State, dash(t.Kind), dash(t.Result))
	})
}

func (f *TableFormatter) formatOverview(o *manager.Overview) string {
	return f.table("VMS\tRUNNING\tCPU\tMEMORY", func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", o.VMs, o.Running, o.CPU, formatMemory(o.MemoryKB))
	})
}

func formatTask(t *status.TaskStatus) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", t.Name, t.State)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return formatAge(time.Since(t))
}

// formatMemory prints KiB in the largest whole unit.
func formatMemory(kb uint64) string {
	switch {
	case kb != 0 && kb%(1024*1024) == 0:
		return fmt.Sprintf("%d GiB", kb/(1024*1024))
	case kb != 0 && kb%1024 == 0:
		return fmt.Sprintf("%d MiB", kb/1024)
	default:
		return fmt.Sprintf("%d KiB", kb)
	}
}

// formatBytes prints a size with one decimal in binary units.
// Examples: "512 B", "1.5 KiB", "20.0 GiB"
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	if years := days / 365; years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	return fmt.Sprintf("%dd", days)
}

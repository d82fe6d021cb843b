package windows

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode/utf16"

	"liveactivity/internal/backend"
)

// ErrToastNotFound is returned by Toaster.Update when the toast is no longer
// in the action center (dismissed or expired).
var ErrToastNotFound = errors.New("toast not found")

// ProgressData is the bindable part of a toast. Partial updates only carry
// this and must use a sequence number greater than the last one applied.
type ProgressData struct {
	Title     string // caption above the bar (task name)
	Status    string // caption below the bar (task type)
	Value     float32
	ValueText string
	Sequence  uint32
}

// Toast is a full toast render.
type Toast struct {
	AppID string
	Tag   string
	Group string

	Title string
	Body  string
	Icon  string

	Data ProgressData
	// Expires is zero for toasts that stay until removed.
	Expires time.Time
}

// Toaster is the WinRT toast surface.
type Toaster interface {
	Show(ctx context.Context, t Toast) error
	Update(ctx context.Context, appID, tag, group string, d ProgressData) error
	Remove(ctx context.Context, appID, tag, group string) error
}

// PowerShellToaster drives Windows.UI.Notifications through powershell.exe.
type PowerShellToaster struct {
	runner backend.Runner
	exe    string
}

func NewPowerShellToaster(r backend.Runner) *PowerShellToaster {
	if r == nil {
		r = backend.ExecRunner{}
	}
	return &PowerShellToaster{runner: r, exe: "powershell.exe"}
}

func (p *PowerShellToaster) Show(ctx context.Context, t Toast) error {
	script, err := render(showTmpl, t)
	if err != nil {
		return err
	}
	_, err = p.run(ctx, script)
	return err
}

func (p *PowerShellToaster) Update(ctx context.Context, appID, tag, group string, d ProgressData) error {
	script, err := render(updateTmpl, Toast{AppID: appID, Tag: tag, Group: group, Data: d})
	if err != nil {
		return err
	}
	out, err := p.run(ctx, script)
	if err != nil {
		if strings.Contains(string(out), "NotificationNotFound") {
			return ErrToastNotFound
		}
		return err
	}
	return nil
}

func (p *PowerShellToaster) Remove(ctx context.Context, appID, tag, group string) error {
	script, err := render(removeTmpl, Toast{AppID: appID, Tag: tag, Group: group})
	if err != nil {
		return err
	}
	_, err = p.run(ctx, script)
	return err
}

func (p *PowerShellToaster) run(ctx context.Context, script string) ([]byte, error) {
	return p.runner.Run(ctx, p.exe, "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-EncodedCommand", encodeCommand(script))
}

// encodeCommand produces the base64 UTF-16LE form -EncodedCommand expects.
func encodeCommand(script string) string {
	u := utf16.Encode([]rune(script))
	buf := make([]byte, len(u)*2)
	for i, c := range u {
		binary.LittleEndian.PutUint16(buf[i*2:], c)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

var funcs = template.FuncMap{
	// ps quotes for a single-quoted PowerShell literal.
	"ps":      func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" },
	"x":       xmlEscape,
	"f":       func(v float32) string { return strconv.FormatFloat(float64(v), 'f', 4, 32) },
	"ts":      func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"iconXML": iconXML,
}

const header = `$ErrorActionPreference = 'Stop'
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
`

const dataBlock = `$data = New-Object Windows.UI.Notifications.NotificationData
$data.Values['progressTitle'] = {{ps .Data.Title}}
$data.Values['progressStatus'] = {{ps .Data.Status}}
$data.Values['progressValue'] = {{ps (f .Data.Value)}}
$data.Values['progressValueString'] = {{ps .Data.ValueText}}
$data.SequenceNumber = {{.Data.Sequence}}
`

var showTmpl = template.Must(template.New("show").Funcs(funcs).Parse(header + dataBlock + `$xml = New-Object Windows.Data.Xml.Dom.XmlDocument
$xml.LoadXml({{ps (printf "<toast><visual><binding template='ToastGeneric'><text>%s</text><text>%s</text>%s<progress title='{progressTitle}' value='{progressValue}' valueStringOverride='{progressValueString}' status='{progressStatus}'/></binding></visual></toast>" (x .Title) (x .Body) (iconXML .Icon))}})
$toast = New-Object Windows.UI.Notifications.ToastNotification $xml
$toast.Tag = {{ps .Tag}}
$toast.Group = {{ps .Group}}
$toast.Data = $data
{{if not .Expires.IsZero}}$toast.ExpirationTime = [DateTimeOffset]::Parse({{ps (ts .Expires)}})
{{end}}[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier({{ps .AppID}}).Show($toast)
`))

var updateTmpl = template.Must(template.New("update").Funcs(funcs).Parse(header + dataBlock + `$r = [Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier({{ps .AppID}}).Update($data, {{ps .Tag}}, {{ps .Group}})
if ($r -ne [Windows.UI.Notifications.NotificationUpdateResult]::Succeeded) { Write-Output "update: $r"; exit 3 }
`))

var removeTmpl = template.Must(template.New("remove").Funcs(funcs).Parse(header + `[Windows.UI.Notifications.ToastNotificationManager]::History.Remove({{ps .Tag}}, {{ps .Group}}, {{ps .AppID}})
`))

func iconXML(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	return "<image placement='appLogoOverride' src='" + xmlEscape(path) + "'/>"
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func render(t *template.Template, v Toast) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, v); err != nil {
		return "", fmt.Errorf("render toast script: %w", err)
	}
	return b.String(), nil
}

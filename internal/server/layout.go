package server

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// Layout wraps a rendered document in the page shell. body is rendered
// straight into w, so flushes inside it reach the client.
func Layout(title, docID string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1"><title>`+
			templ.EscapeString(title)+`</title></head><body>`+
			`<main class="container mx-auto px-4 py-8"><div class="prose prose-lg max-w-none">`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `</div></main>`); err != nil {
			return err
		}
		if err := LiveReload(docID).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

const liveReloadScript = `(function(){var id=%s;` +
	`var scheme=location.protocol==="https:"?"wss:":"ws:";` +
	`function connect(){var ws=new WebSocket(scheme+"//"+location.host+"/ws");` +
	`ws.onmessage=function(e){var m=JSON.parse(e.data);` +
	`if(m.type==="reload"||m.type==="component_updated"||(m.type==="document_updated"&&m.target===id)){location.reload();}};` +
	`ws.onclose=function(){setTimeout(connect,1000);};}` +
	`connect();})();`

// LiveReload reloads the page when the document or any component
// changes.
func LiveReload(docID string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		id, err := templ.JSONString(docID)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<script>"+fmt.Sprintf(liveReloadScript, id)+"</script>")
		return err
	})
}

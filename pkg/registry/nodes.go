package registry

import (
	"github.com/convoflow/convoflow/pkg/nodes/ai"
	"github.com/convoflow/convoflow/pkg/nodes/botcontrol"
	"github.com/convoflow/convoflow/pkg/nodes/condition"
	"github.com/convoflow/convoflow/pkg/nodes/delay"
	"github.com/convoflow/convoflow/pkg/nodes/end"
	"github.com/convoflow/convoflow/pkg/nodes/httprequest"
	"github.com/convoflow/convoflow/pkg/nodes/input"
	"github.com/convoflow/convoflow/pkg/nodes/message"
	"github.com/convoflow/convoflow/pkg/protocol"
)

// NodeDependencies carries the external collaborators the built-in node
// handlers need. Completer, Retriever, and BotController may be nil when
// the deployment does not use the node types that require them; creating
// such a node then fails at handler creation, not at registration.
type NodeDependencies struct {
	Sender        protocol.ChannelSender
	Completer     protocol.Completer
	Retriever     protocol.Retriever
	BotController protocol.BotController
}

// RegisterDefaultNodes registers every built-in node type on the registry.
func RegisterDefaultNodes(r *Registry, deps NodeDependencies) {
	r.RegisterNode(message.NewFactory("message", "Text Message", deps.Sender))
	r.RegisterNode(message.NewFactory("media", "Media Message", deps.Sender))
	r.RegisterNode(message.NewFactory("template", "Template Message", deps.Sender))
	r.RegisterNode(message.NewFactory("interactive", "Interactive Message", deps.Sender))

	r.RegisterNode(condition.NewFactory())
	r.RegisterNode(input.NewFactory())

	r.RegisterNode(delay.NewFactory("delay", "Delay"))
	r.RegisterNode(delay.NewFactory("followup", "Follow-Up"))

	r.RegisterNode(httprequest.NewFactory("http_request", "HTTP Request"))
	r.RegisterNode(httprequest.NewFactory("webhook", "Webhook"))
	r.RegisterNode(httprequest.NewFactory("shopify", "Shopify"))
	r.RegisterNode(httprequest.NewFactory("woocommerce", "WooCommerce"))
	r.RegisterNode(httprequest.NewFactory("sheets", "Google Sheets"))
	r.RegisterNode(httprequest.NewFactory("n8n", "n8n Workflow"))
	r.RegisterNode(httprequest.NewFactory("typebot", "Typebot"))
	r.RegisterNode(httprequest.NewFactory("flowise", "Flowise"))

	r.RegisterNode(ai.NewFactory(deps.Completer, deps.Retriever, deps.Sender))

	r.RegisterNode(end.NewFactory())

	r.RegisterNode(botcontrol.NewFactory(botcontrol.KindDisable, "Disable Bot", deps.BotController))
	r.RegisterNode(botcontrol.NewFactory(botcontrol.KindReset, "Reset Bot", deps.BotController))
}

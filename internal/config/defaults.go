package config

// HistoryPlaceholder marks where the user's message goes in the prompt template.
const HistoryPlaceholder = "{{history}}"

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        5000,
			WebhookPath: "/webhook",
			MetricsPath: "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DBPath: "~/.mezada/mezada.db",
		},
		Generation: GenerationConfig{
			APIBase:        "https://api.groq.com/openai/v1",
			Model:          "llama-3.3-70b-versatile",
			TimeoutSeconds: 60,
			MaxRetries:     0,
			PromptTemplate: defaultPromptTemplate,
		},
		Transport: TransportConfig{
			APIBase:               "https://api.twilio.com/2010-04-01",
			SendTimeoutSeconds:    15,
			WelcomeTimeoutSeconds: 5,
			RatePerSecond:         1,
			Burst:                 3,
		},
		Dispatch: DispatchConfig{
			Workers:             4,
			QueueSize:           100,
			DrainTimeoutSeconds: 30,
		},
		Messages: MessagesConfig{
			Welcome:      defaultWelcome,
			Ack:          defaultAck,
			AdviceHeader: "📊 Análise Financeira\n\n",
		},
	}
}

const defaultWelcome = `🤖 Olá! Eu sou o Mezada 1.0 📊, seu assistente de planejamento financeiro.

💰 O que eu faço?
- Analiso sua situação financeira com inteligência artificial 🤖
- Dou recomendações para melhorar suas finanças 📈
- Te ajudo a tomar decisões inteligentes sobre dinheiro 💵

Digite uma mensagem contando sobre sua situação financeira e eu irei te ajudar!`

const defaultAck = "✅ Recebemos sua mensagem! Estamos processando sua análise financeira. Aguarde um instante."

const defaultPromptTemplate = `
O usuário compartilhou a seguinte história financeira:
{{history}}

Gere uma recomendação personalizada para ajudá-lo a melhorar sua vida financeira.
`

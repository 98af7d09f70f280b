package constants

// Discord constants
const (
	// DiscordMaxMessageLength is the maximum character limit for Discord messages
	DiscordMaxMessageLength = 2000

	// SimulatedMessageIndent prefixes the generated text under the member's name
	SimulatedMessageIndent = "    "
)

// Command names understood after the command prefix
const (
	CommandStart    = "start"
	CommandSchedule = "schedule"
	CommandHelp     = "help"

	ScheduleStopArg = "stop"
)

// Bot replies
const (
	ReplyUnknownCommand     = "I'm sorry, I don't understand that command"
	ReplyScheduleHint       = "I don't quite understand you. Did you mean '%sschedule stop'?"
	ReplyAlreadyScheduled   = "Simulations are already scheduled"
	ReplyScheduled          = "Scheduling simulations in this channel!"
	ReplyScheduleStopped    = "Stopping simulations in this channel!"
	ReplyNoSimulatedMembers = "Nobody in this server has said enough for me to simulate yet."
	BotDescription          = "I am a horrible, twisted version of your guild. FEAR ME."
)

// EntitySeparator joins guild and member ids into an entity id
const EntitySeparator = ":"

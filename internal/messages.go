package internal

// Operator-facing chat texts. The operators read Ukrainian.
const (
	msgTyping          = "Набір номеру"
	msgRinging         = "Підключення до {number}"
	msgDialing         = "Дзвоник до {number}"
	msgTalking         = "Говоримо з %s"
	msgCallEnded       = "Дзвоник до %s - %s"
	msgProbablyFailed  = "Ймовірно невдалий дзвоник до {number}"
	msgUnknownCallee   = "'невідомо кого'"
	msgCrashed         = "Я впав та не можу піднятись. Поможіть!"
	msgLoopFault       = "Щось пішло не так: %s"
	msgCallerDown      = "Дзвонилка <b>не фуричить</b>.\n%s\n"
	msgCallerReport    = "%sЗапущена вже %s\nНаговорили %s\nПереналаштовую..."
	msgCallerFixed     = "Дзвонилка <b>працює</b>. Просто крутизна!"
	msgCallerNotFixed  = "Дзвонилка <b>не працює</b>. Спробую ще пізніше."
	msgRebooting       = "Перезавантажую дзвонилку."
	msgRebooted        = "Перезавантажено дзвонилку."
	msgClockRepair     = "Переналаштовую дзвонилку бо вона ґеґнула (1970 рік надворі)!"
	msgClockReboot     = "Перезавантажую дзвонилку бо вона знову ні-гугу (1970 рік надворі)!"
	msgRegBadCreds     = "Помилка реєстрації VoIP. Невірний логін/пароль (код %s)"
	msgRegForbidden    = "Невідома помилка (код %s)"
	msgRegVoIP         = "Помилка реєстрації VoIP (код %s)"
	msgRegNoSIM        = "SIM не знайдено"
	msgRegNoGSM        = "Помилка реєстрації GSM"
	msgSMSUp           = "СМС моніторинг працює"
	msgSMSDown         = "СМС моніторинг не працює."
	msgSMSReceived     = "Отримано СМС від %s\n%s"
	msgSMSSending      = "Надсилаю СМС до %s\n%s"
	msgSMSSent         = "СМС надіслано"
	msgSMSFailed       = "Помилка при надсиланні СМС"
	msgUSSDSending     = "Надсилаю USSD: %s"
	msgRequestCreated  = "Створено запит"
	msgRequestRunning  = "Виконую запит"
	msgRequestDone     = "Тринь, ісполнєно!"
	msgRequestFailed   = "Трапилась помилка"
	msgTestSuffix      = " (ТЕСТ)"
	msgSummaryCalls    = "Розмов %s\n"
	msgSummaryNoCalls  = "не було"
	msgSummaryWeek     = "За тиждень %s\n"
	msgSummaryBalance  = "На рахунку %s грн"
	msgSummaryDiff     = " (%s грн)"
	msgSummaryMinutes  = "%d хв %s\n"
	msgSummaryDaysLeft = "на %d дні(в)"
	msgSummaryToday    = "до сьогодні"
	msgSummaryRepairs  = "<b>Полагоджено %d раз(и)</b>\n"
	msgSummaryTariff   = "Тариф %s\n"
	msgSummaryTopUp    = "<b>Поповни! Лишилось %d дні(в)</b>\n"
	msgSummaryValid    = "Рік/номер до %s\n"
)

var failedCallRemarks = []string{
	" і навдача...", " тю-тю", " та няма късмет", " і відкрилась ще одна чакра",
	", тепер піду посплю", ". І нашо ото було?", ". Є чим гордитися",
	". А цьом буде?", ", проте питання лишилось відкритим", ". Тепер сиджу, як абізяна...",
}

var greetingPhrases = []string{
	"Знову на дроті", "Здоровенькі були!", "Охо-хо!", "Викликали? Вже тут",
	"Привітики-пістолітики!", "Я дзвонилка хоч куди", "Відкривай ворота",
	"Я знову в ділі", "Мої вітання!", "Обіймемось?", "Я працюю - дивина та й годі!",
	"Тринь - ісполнєно!",
}

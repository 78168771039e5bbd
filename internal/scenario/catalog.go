package scenario

// defaultScenarios returns the built-in scenario bank: two elenchus, two
// maieutics, and four aporia scenarios. Follow-ups are scripted student
// replies that keep the dialogue moving without conceding the point, so the
// tutor's Socratic discipline is tested across several turns.
func defaultScenarios() []*Scenario {
	return []*Scenario{
		{
			ID:      "EL-ETH-UTIL-DEON-01",
			Vector:  VectorElenchus,
			Persona: "I am an 11th-grade student in an ethics class.",
			Prompt: "I believe in 100% utilitarianism—the greatest good for the greatest number is the only moral rule that matters. " +
				"Following this, I've concluded that it is not just permissible but morally required for a doctor to sacrifice one healthy person to harvest their organs if it can save five other people.",
			FollowUps: []string{
				"Well, five lives are worth more than one, that's just math. The doctor would be maximizing happiness.",
				"Hmm, I guess I wouldn't want to live in a world where I could be harvested at any time. But doesn't that just mean people are selfish?",
				"So maybe the fear everyone would feel counts as unhappiness too? That seems to complicate my rule.",
				"I'm not sure anymore whether the rule can be the only thing that matters.",
			},
			Goals: []string{
				"Probe the internal contradiction/value conflict using the student's own stated logic",
				"Do not provide answers; stay non-directive",
			},
			Notes: "Utilitarian absolutism vs rights/deontology conflict",
		},
		{
			ID:      "EL-CIV-FREE-HARM-01",
			Vector:  VectorElenchus,
			Persona: "I am a 10th-grade student in a civics class.",
			Prompt: "I'm a total absolutist on free speech; I believe everyone has the right to say anything they want, no exceptions. " +
				"But, I also think people who post hateful, offensive things online that really hurt people's feelings should be arrested and have their accounts deleted.",
			FollowUps: []string{
				"Those are different though. Free speech is about the government, and hateful posts are just mean.",
				"But arresting someone is the government doing something... okay, I see that, but surely there's a line somewhere?",
				"Maybe I'm not actually an absolutist then. But then who decides where the line is?",
				"I guess both of my beliefs can't be completely true at the same time.",
			},
			Goals: []string{
				"Surface the contradiction without lecturing",
				"Force the student to examine how both claims can be true simultaneously",
			},
			Notes: "Free speech absolutism vs harm/punishment contradiction",
		},
		{
			ID:      "MAI-BIO-CRISPR-01",
			Vector:  VectorMaieutics,
			Persona: "I'm a 12th-grade AP Biology student.",
			Prompt: "I get the basics of CRISPR. I know that the Cas9 enzyme is like 'molecular scissors' that can cut DNA. " +
				"But how does it know where to cut? The genome is huge.",
			FollowUps: []string{
				"Maybe there's something that matches the DNA sequence? Like a template it compares against?",
				"Oh, so the guide RNA pairs with the target sequence! But couldn't the same twenty letters appear twice in the genome?",
				"So it needs something extra next to the match... is that the PAM thing I saw in the textbook?",
				"Okay, so Cas9 only cuts where the guide matches and a PAM sits next to it. That makes sense now.",
			},
			Goals: []string{
				"Guide student to discover guide RNA (gRNA) role",
				"Then introduce/lead to PAM concept (Level 3)",
			},
			Notes: "Level progression: Cas9 -> gRNA -> PAM",
		},
		{
			ID:      "MAI-ECO-INFL-01",
			Vector:  VectorMaieutics,
			Persona: "I'm an 11th-grade economics student.",
			Prompt:  "I understand that inflation means prices are going up. And I think it's because the government just prints too much money.",
			FollowUps: []string{
				"I mean, more money chasing the same goods means higher prices, right? Is there any other way prices could rise?",
				"Oh, if oil gets more expensive then everything shipped gets more expensive... so costs can push prices up too?",
				"And if everyone expects prices to rise, workers ask for raises, which raises costs again? That sounds like a loop.",
				"So printing money is one cause, but demand, costs, and expectations all matter.",
			},
			Goals: []string{
				"Expand to demand-pull and cost-push",
				"Introduce expectations and wage-price spiral",
			},
			Notes: "Level progression: Monetarist seed -> multi-factor inflation",
		},
		{
			ID:      "APO-PHY-HEAT-TEMP-01",
			Vector:  VectorAporia,
			Persona: "I'm a 10th-grade physics student.",
			Prompt: "We're learning about heat. My idea is that to make my soup heat up faster, I should use a metal spoon to stir it, because metal gets hotter than the soup. " +
				"My plastic spoon doesn't get as hot, so it doesn't transfer as much heat.",
			FollowUps: []string{
				"Well, the metal spoon feels hotter when I touch it, so it must have more heat in it.",
				"Wait, if both spoons sit in the same soup, wouldn't they end up at the same temperature? But the metal one feels hotter...",
				"So feeling hot is about how fast heat moves into my hand, not how much heat the spoon has? Now I'm confused about what heat even is.",
				"Maybe heat is the energy that flows, and temperature is something else. Could the spoon actually carry heat out of the soup?",
			},
			Goals: []string{
				"Expose confusion between heat and temperature",
				"Correct misconceptions about conduction (without lecturing)",
				"Induce productive puzzlement then rebuild",
			},
			Notes: "Ontological misconception: heat-as-substance; conduction",
		},
		{
			ID:      "APO-BIO-GENE-DETERM-01",
			Vector:  VectorAporia,
			Persona: "I'm a 12th-grade student.",
			Prompt: "My idea for a science project is to make humans more drought-resistant. I read that camels have a gene that lets them store water, " +
				"so I'd just use genetic engineering to take that one gene from a camel and put it into a person.",
			FollowUps: []string{
				"Isn't that how it works? One gene makes one trait, like the textbook diagrams show.",
				"Hmm, so camels store water with their whole body shape and kidneys and blood cells... can one gene really control all that?",
				"If lots of genes work together, and they switch each other on and off, then moving one gene might do nothing. Or something unexpected.",
				"So a trait is more like a network than a switch. My project idea just fell apart, but I think I get why.",
			},
			Goals: []string{
				"Challenge one-gene/one-trait determinism",
				"Surface regulation/polygenic expression",
				"Aporia then scaffold toward accurate model",
			},
			Notes: "Determinism and gene regulation misconceptions",
		},
		{
			ID:      "APO-BIO-EVOL-LAM-01",
			Vector:  VectorAporia,
			Persona: "I'm an 11th-grade biology student.",
			Prompt:  "I'm confused about evolution. It seems like giraffes needed longer necks to reach the high leaves, so they stretched their necks, and their children were born with longer necks, right? The need must have driven the change.",
			FollowUps: []string{
				"How else would it happen? The giraffes that needed longer necks got them.",
				"Okay, so if I lift weights my kids aren't born with muscles... but then where do longer necks come from?",
				"So some giraffes were just born with longer necks by chance, and those survived better? The need didn't cause anything?",
				"That feels backwards from what I thought, but it actually explains it without the giraffe trying.",
			},
			Goals: []string{
				"Expose inheritance-of-acquired-traits flaw",
				"Lead to random variation and selection",
			},
			Notes: "Teleology/Lamarckian misconception",
		},
		{
			ID:      "APO-PHY-QUANT-OBS-01",
			Vector:  VectorAporia,
			Persona: "I'm a 12th-grade student.",
			Prompt:  "I'm stuck on the double-slit experiment. It's bizarre. My idea is that the particle must 'know' we are watching it, so it decides to stop being a wave and act like a particle.",
			FollowUps: []string{
				"But the pattern changes when we watch! Doesn't that mean the particle notices us?",
				"Hmm, what does 'watching' actually mean for something that small? I guess we have to bounce something off it...",
				"So measuring it means interacting with it, and the interaction changes it? It's not about minds at all?",
				"Then the mystery is about interaction, not consciousness. That's still weird, but a different kind of weird.",
			},
			Goals: []string{
				"Remove anthropomorphic explanation",
				"Differentiate observation vs measurement interaction",
			},
			Notes: "Observer anthropomorphism",
		},
	}
}

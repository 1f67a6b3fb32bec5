package httpx

const dashboardPageHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Evalboard</title>
  <style>
    :root {
      --bg: #08161f;
      --bg2: #102534;
      --card: rgba(12, 28, 39, 0.78);
      --line: #2a4b63;
      --text: #e5f4ff;
      --muted: #9bbacf;
      --accent: #54f2b2;
      --warn: #ffca63;
      --danger: #ff6b7d;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      color: var(--text);
      background: linear-gradient(130deg, var(--bg), var(--bg2));
      font-family: "Segoe UI", sans-serif;
      min-height: 100vh;
    }
    .shell { max-width: 1180px; margin: 0 auto; padding: 28px 18px 40px; }
    .headline { display: flex; justify-content: space-between; align-items: end; gap: 14px; margin-bottom: 18px; }
    h1 { margin: 0; letter-spacing: 0.04em; font-size: clamp(1.5rem, 2vw, 2.1rem); }
    .tag, .mono { font-family: monospace; }
    .tag { color: var(--muted); font-size: 12px; }
    .cards, .filters { display: grid; grid-template-columns: repeat(4, minmax(0, 1fr)); gap: 10px; margin-bottom: 14px; }
    .card, .table-wrap, .chart { background: var(--card); border: 1px solid var(--line); border-radius: 12px; padding: 12px; }
    .k { font-family: monospace; font-size: 11px; color: var(--muted); margin-bottom: 8px; text-transform: uppercase; }
    .v { font-size: 1.3rem; font-weight: 700; }
    input, select, button {
      width: 100%; border-radius: 10px; border: 1px solid var(--line);
      background: rgba(8, 23, 33, 0.86); color: var(--text); padding: 10px 11px; font: inherit;
    }
    button { cursor: pointer; font-weight: 600; }
    .chart { margin-bottom: 14px; text-align: center; }
    .chart img { max-width: 100%; }
    .table-wrap { overflow: auto; }
    table { width: 100%; border-collapse: collapse; }
    th, td { padding: 8px 10px; text-align: left; border-bottom: 1px solid rgba(42, 75, 99, 0.55); font-size: 14px; }
    th { font-size: 11px; color: var(--muted); text-transform: uppercase; }
    .absent { color: var(--muted); }
    .bad { color: var(--danger); }
    #error { color: var(--warn); margin-bottom: 10px; }
  </style>
</head>
<body>
  <main class="shell">
    <section class="headline">
      <div>
        <h1>Evalboard</h1>
        <div class="tag">Benchmark scores per model and dataset over time.</div>
      </div>
      <button id="refreshBtn" style="width:auto">Refresh</button>
    </section>

    <section class="cards">
      <article class="card"><div class="k">Results</div><div id="results" class="v">-</div></article>
      <article class="card"><div class="k">Models</div><div id="models" class="v">-</div></article>
      <article class="card"><div class="k">Latest</div><div id="latest" class="v">-</div></article>
      <article class="card"><div class="k">Failed Runs</div><div id="failures" class="v">-</div></article>
    </section>

    <section class="filters">
      <input id="token" type="password" placeholder="access token" />
      <input id="model" placeholder="model id (all)" />
      <select id="dataset"><option value="all">all datasets</option></select>
      <button id="chartBtn">Chart</button>
    </section>

    <div id="error"></div>
    <section class="chart" id="chartWrap" hidden><img id="chart" alt="score chart" /></section>

    <section class="table-wrap">
      <table>
        <thead id="head"></thead>
        <tbody id="rows"></tbody>
      </table>
    </section>
  </main>
  <script>
    const tokenInput = document.getElementById("token");
    tokenInput.value = localStorage.getItem("evalboard.token") || "";

    function headers() {
      const token = tokenInput.value.trim();
      return token ? { "Authorization": "Bearer " + token } : {};
    }
    async function fetchJSON(url) {
      const res = await fetch(url, { headers: headers() });
      const body = await res.json();
      if (!res.ok) throw new Error(body.message || res.statusText);
      return body;
    }
    function cell(v) {
      if (v === null || v === undefined) return '<td class="mono absent">·</td>';
      const cls = v < 0 ? "mono bad" : "mono";
      return '<td class="' + cls + '">' + Number(v).toFixed(3) + '</td>';
    }

    async function loadDatasets() {
      const select = document.getElementById("dataset");
      const datasets = await fetchJSON("/api/datasets");
      datasets.forEach((ds) => {
        const opt = document.createElement("option");
        opt.value = ds.key;
        opt.textContent = ds.key;
        select.appendChild(opt);
      });
    }

    async function refresh() {
      document.getElementById("error").textContent = "";
      localStorage.setItem("evalboard.token", tokenInput.value.trim());
      const model = document.getElementById("model").value.trim() || "all";
      const dataset = document.getElementById("dataset").value;

      const summary = await fetchJSON("/api/summary");
      document.getElementById("results").textContent = summary.results;
      document.getElementById("models").textContent = summary.models;
      document.getElementById("latest").textContent = summary.latest_date || "-";
      document.getElementById("failures").textContent = summary.failures;

      const params = new URLSearchParams({ model: model, dataset: dataset });
      const result = await fetchJSON("/api/series?" + params.toString());
      const dates = result.dates || [];
      document.getElementById("head").innerHTML =
        "<tr><th>Series</th>" + dates.map((d) => "<th>" + d + "</th>").join("") + "</tr>";
      document.getElementById("rows").innerHTML = (result.series || []).map((s) =>
        '<tr><td class="mono">' + s.name + "</td>" + s.data.map(cell).join("") + "</tr>"
      ).join("");
    }

    async function drawChart() {
      const model = document.getElementById("model").value.trim() || "all";
      const dataset = document.getElementById("dataset").value;
      const res = await fetch("/api/charts/" + encodeURIComponent(model) + "?dataset=" + encodeURIComponent(dataset), { headers: headers() });
      if (!res.ok) throw new Error((await res.json()).message || res.statusText);
      const blob = await res.blob();
      document.getElementById("chart").src = URL.createObjectURL(blob);
      document.getElementById("chartWrap").hidden = false;
    }

    function report(err) { document.getElementById("error").textContent = err.message; }
    document.getElementById("refreshBtn").addEventListener("click", () => refresh().catch(report));
    document.getElementById("chartBtn").addEventListener("click", () => drawChart().catch(report));
    ["model", "dataset", "token"].forEach((id) => {
      document.getElementById(id).addEventListener("change", () => refresh().catch(report));
    });
    loadDatasets().then(refresh).catch(report);
  </script>
</body>
</html>`
